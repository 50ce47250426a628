package resolve

import (
	"regexp"
	"strings"

	"karavan/internal/models"
)

var (
	reInteger = regexp.MustCompile(`^-?\d+$`)
	reFloat   = regexp.MustCompile(`^-?\d*\.\d+$`)
	reDateISO = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	reDateUS  = regexp.MustCompile(`^\d{2}/\d{2}/\d{4}$`)
	reURL     = regexp.MustCompile(`^https?://`)
	reEmail   = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

var boolTokens = map[string]bool{
	"true": true, "false": true,
	"1": true, "0": true,
	"yes": true, "no": true,
}

// inference is one (predicate, type) step; the slice order IS the precedence.
type inference struct {
	typ   models.AttributeType
	match func(string) bool
}

var inferences = []inference{
	{models.AttrBoolean, func(s string) bool { return boolTokens[strings.ToLower(s)] }},
	{models.AttrInteger, reInteger.MatchString},
	{models.AttrFloat, reFloat.MatchString},
	{models.AttrDate, func(s string) bool { return reDateISO.MatchString(s) || reDateUS.MatchString(s) }},
	{models.AttrURL, reURL.MatchString},
	{models.AttrEmail, reEmail.MatchString},
	{models.AttrArray, isArray},
	{models.AttrText, func(s string) bool { return len(s) > 255 }},
}

func isArray(s string) bool {
	if !strings.Contains(s, ",") {
		return false
	}
	segments := 0
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) != "" {
			segments++
		}
	}
	return segments >= 2
}

// InferType classifies a raw cell value. It is a pure function of the
// trimmed input and always evaluates predicates in the same order.
func InferType(value string) models.AttributeType {
	trimmed := strings.TrimSpace(value)
	for _, inf := range inferences {
		if inf.match(trimmed) {
			return inf.typ
		}
	}
	return models.AttrString
}

// compatibleTypes lists which inferred types a stored type accepts beyond
// an exact match.
var compatibleTypes = map[models.AttributeType][]models.AttributeType{
	models.AttrString: {models.AttrText, models.AttrEmail, models.AttrURL, models.AttrPhone, models.AttrColor},
	models.AttrNumber: {models.AttrInteger, models.AttrFloat, models.AttrCurrency, models.AttrPercentage},
	models.AttrText:   {models.AttrString},
	models.AttrFloat:  {models.AttrInteger},
}

// Compatible reports whether a value inferred as `inferred` may be stored in
// an attribute declared as `stored`.
func Compatible(stored, inferred models.AttributeType) bool {
	if stored == inferred {
		return true
	}
	for _, t := range compatibleTypes[stored] {
		if t == inferred {
			return true
		}
	}
	return false
}
