package transform

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Guizzs26/go-paysync/internal/models"
)

// PackageLookup resolves package definitions. A missing package is (nil, nil).
type PackageLookup interface {
	Package(ctx context.Context, packageID string) (models.Document, error)
}

// PackageExpander replaces bundle ticket lines with one concrete line per included item
type PackageExpander struct {
	packages PackageLookup
	logger   *slog.Logger
}

func NewPackageExpander(packages PackageLookup, logger *slog.Logger) *PackageExpander {
	return &PackageExpander{packages: packages, logger: logger}
}

// IsPackageLine reports whether a ticket line is a bundle rather than a sellable ticket
func IsPackageLine(line models.Document) bool {
	b, _ := line.Bool("isPackage")
	return b
}

// Expand returns the concrete lines for one ticket line. Non-package lines come
// back as is. A package that cannot be resolved yields the original line flagged
// couldNotExpand.
func (e *PackageExpander) Expand(ctx context.Context, line models.Document) []models.Document {
	if !IsPackageLine(line) {
		return []models.Document{line}
	}

	packageID := PackageID.String(line)
	lineID := TicketLineID.String(line)
	l := e.logger.With("package_id", packageID, "line_id", lineID)

	var pkg models.Document
	if packageID != "" {
		found, err := e.packages.Package(ctx, packageID)
		if err != nil {
			l.Warn("Package lookup failed, keeping package line", "error", err)
		}
		pkg = found
	}

	items := IncludedItems.Objects(pkg)
	if len(items) == 0 {
		l.Warn("Package could not be expanded")
		kept := line.Clone()
		kept["couldNotExpand"] = true
		return []models.Document{kept}
	}

	out := make([]models.Document, 0, len(items))
	for i, item := range items {
		expanded := line.Clone()
		id := fmt.Sprintf("%s_item_%d", lineID, i)

		expanded["id"] = id
		expanded["ticketId"] = id
		expanded["eventTicketId"] = IncludedTicket.String(item)
		expanded["price"] = floatOr(TicketPrice, item, 0)
		expanded["quantity"] = floatOr(TicketQuantity, item, 1)
		if name := TicketName.String(item); name != "" {
			expanded["itemName"] = name
		}
		expanded["isPackage"] = false
		expanded["isFromPackage"] = true
		expanded["parentPackageId"] = packageID
		if name := PackageName.String(pkg); name != "" {
			expanded["packageName"] = name
		}
		delete(expanded, "couldNotExpand")
		out = append(out, expanded)
	}

	l.Debug("Package expanded", "items", len(out))
	return out
}

// ExpandAll expands every package line of a ticket list, keeping line order
func (e *PackageExpander) ExpandAll(ctx context.Context, lines []models.Document) []models.Document {
	out := make([]models.Document, 0, len(lines))
	for _, line := range lines {
		out = append(out, e.Expand(ctx, line)...)
	}
	return out
}

func floatOr(r Resolver, doc models.Document, fallback float64) float64 {
	if f, ok := r.Float(doc); ok {
		return f
	}
	return fallback
}
