package transform

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// namespace for ids derived from business keys, so re-runs derive the same ids
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://paysync.lodgetix/ids"))

// NormalizeEmail trims and lower-cases an email address. The result is the sole
// contact deduplication key.
func NormalizeEmail(email string) string {
	s := strings.TrimSpace(norm.NFC.String(email))
	if s == "" {
		return ""
	}
	return cases.Lower(language.Und).String(s)
}

// normalizeName folds a name part for hashing
func normalizeName(s string) string {
	return cases.Lower(language.Und).String(strings.TrimSpace(norm.NFC.String(s)))
}

// CustomerHash is the content hash a Customer is keyed by
func CustomerHash(firstName, lastName, email string) string {
	sum := sha256.Sum256([]byte(normalizeName(firstName) + "|" + normalizeName(lastName) + "|" + NormalizeEmail(email)))
	return hex.EncodeToString(sum[:])
}

// LegacyContactKey reproduces the composite key contacts were staged under
// before email unification: md5(email + mobile + lastName + firstName).
func LegacyContactKey(email, mobile, lastName, firstName string) string {
	sum := md5.Sum([]byte(NormalizeEmail(email) + strings.TrimSpace(mobile) + normalizeName(lastName) + normalizeName(firstName)))
	return hex.EncodeToString(sum[:])
}

// DeriveID returns a stable uuid for a (kind, key) pair
func DeriveID(kind, key string) string {
	return uuid.NewSHA1(idNamespace, []byte(kind+":"+key)).String()
}
