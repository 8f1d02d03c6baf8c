package canonical

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/titan-aas/titan/pkg/aas"
)

// Syntactic validation of element value text against a declared xs:* type.
//
// Values are text on the wire and text in the store; validation never
// converts them. That keeps precision lossless for arbitrary decimals and
// keeps canonical bytes verbatim.

func validateValueText(vt aas.ValueType, s string) error {
	switch vt {
	case "xs:string", "xs:anyURI":
		return nil

	case "xs:boolean":
		if s == "true" || s == "false" {
			return nil
		}
		return fmt.Errorf("%w: boolean value must be true or false, got %q", ErrValidation, s)

	case "xs:double", "xs:float":
		return checkFloatText(s)

	case "xs:decimal":
		return checkDecimalText(s)

	case "xs:integer":
		return checkIntegerText(s, true)
	case "xs:nonNegativeInteger":
		return checkUnsignedText(s)
	case "xs:positiveInteger":
		if err := checkUnsignedText(s); err != nil {
			return err
		}
		if strings.Trim(s, "0") == "" {
			return fmt.Errorf("%w: positiveInteger must be > 0", ErrValidation)
		}
		return nil
	case "xs:nonPositiveInteger", "xs:negativeInteger":
		if err := checkIntegerText(s, true); err != nil {
			return err
		}
		if !strings.HasPrefix(s, "-") && strings.Trim(s, "0") != "" {
			return fmt.Errorf("%w: %s must be <= 0", ErrValidation, vt)
		}
		if vt == "xs:negativeInteger" && strings.Trim(strings.TrimPrefix(s, "-"), "0") == "" {
			return fmt.Errorf("%w: negativeInteger must be < 0", ErrValidation)
		}
		return nil

	case "xs:byte":
		return checkBoundedInt(s, -128, 127)
	case "xs:short":
		return checkBoundedInt(s, -32768, 32767)
	case "xs:int":
		return checkBoundedInt(s, -2147483648, 2147483647)
	case "xs:long":
		_, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: invalid long %q", ErrValidation, s)
		}
		return nil

	case "xs:unsignedByte":
		return checkBoundedUint(s, 255)
	case "xs:unsignedShort":
		return checkBoundedUint(s, 65535)
	case "xs:unsignedInt":
		return checkBoundedUint(s, 4294967295)
	case "xs:unsignedLong":
		_, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: invalid unsignedLong %q", ErrValidation, s)
		}
		return nil

	case "xs:dateTime":
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return fmt.Errorf("%w: invalid dateTime %q (RFC 3339 required)", ErrValidation, s)
		}
		return nil
	case "xs:date":
		if _, err := time.Parse("2006-01-02", s); err != nil {
			return fmt.Errorf("%w: invalid date %q", ErrValidation, s)
		}
		return nil
	case "xs:time":
		for _, layout := range []string{"15:04:05", "15:04:05.999999999", "15:04:05Z07:00", "15:04:05.999999999Z07:00"} {
			if _, err := time.Parse(layout, s); err == nil {
				return nil
			}
		}
		return fmt.Errorf("%w: invalid time %q", ErrValidation, s)
	case "xs:duration":
		return checkDurationText(s)
	case "xs:gYear":
		if len(s) < 4 {
			return fmt.Errorf("%w: invalid gYear %q", ErrValidation, s)
		}
		return checkIntegerText(strings.TrimPrefix(s, "-"), false)
	case "xs:gMonthDay":
		if _, err := time.Parse("--01-02", s); err != nil {
			return fmt.Errorf("%w: invalid gMonthDay %q", ErrValidation, s)
		}
		return nil

	case "xs:base64Binary":
		if _, err := base64.StdEncoding.DecodeString(s); err != nil {
			return fmt.Errorf("%w: invalid base64Binary", ErrValidation)
		}
		return nil
	case "xs:hexBinary":
		if len(s)%2 != 0 {
			return fmt.Errorf("%w: hexBinary length must be even", ErrValidation)
		}
		for _, r := range s {
			if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')) {
				return fmt.Errorf("%w: invalid hexBinary digit %q", ErrValidation, r)
			}
		}
		return nil
	}
	return fmt.Errorf("%w: unsupported valueType %q", ErrValidation, vt)
}

// checkFloatText accepts IEEE 754 decimal text plus the XSD specials.
func checkFloatText(s string) error {
	switch s {
	case "INF", "-INF", "NaN":
		return nil
	}
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return fmt.Errorf("%w: invalid floating point value %q", ErrValidation, s)
	}
	return nil
}

// checkDecimalText accepts arbitrary-precision decimal text: optional sign,
// digits, optional fraction. No exponent per XSD decimal.
func checkDecimalText(s string) error {
	t := strings.TrimPrefix(strings.TrimPrefix(s, "-"), "+")
	if t == "" {
		return fmt.Errorf("%w: empty decimal", ErrValidation)
	}
	intPart, fracPart, hasDot := strings.Cut(t, ".")
	if !allDigits(intPart) || intPart == "" {
		return fmt.Errorf("%w: invalid decimal %q", ErrValidation, s)
	}
	if hasDot && (fracPart == "" || !allDigits(fracPart)) {
		return fmt.Errorf("%w: invalid decimal %q", ErrValidation, s)
	}
	return nil
}

func checkIntegerText(s string, allowSign bool) error {
	t := s
	if allowSign {
		t = strings.TrimPrefix(strings.TrimPrefix(t, "-"), "+")
	}
	if t == "" || !allDigits(t) {
		return fmt.Errorf("%w: invalid integer %q", ErrValidation, s)
	}
	return nil
}

func checkUnsignedText(s string) error {
	if s == "" || !allDigits(s) {
		return fmt.Errorf("%w: invalid non-negative integer %q", ErrValidation, s)
	}
	return nil
}

func checkBoundedInt(s string, min, max int64) error {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < min || v > max {
		return fmt.Errorf("%w: integer %q out of range [%d,%d]", ErrValidation, s, min, max)
	}
	return nil
}

func checkBoundedUint(s string, max uint64) error {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil || v > max {
		return fmt.Errorf("%w: unsigned integer %q out of range [0,%d]", ErrValidation, s, max)
	}
	return nil
}

// checkDurationText is a conservative ISO 8601 duration scanner: P, optional
// date fields, optional T-separated time fields, at least one field total.
func checkDurationText(s string) error {
	t := strings.TrimPrefix(s, "-")
	if !strings.HasPrefix(t, "P") {
		return fmt.Errorf("%w: invalid duration %q", ErrValidation, s)
	}
	t = t[1:]
	if t == "" {
		return fmt.Errorf("%w: invalid duration %q", ErrValidation, s)
	}
	datePart, timePart, hasT := strings.Cut(t, "T")
	if hasT && timePart == "" {
		return fmt.Errorf("%w: invalid duration %q", ErrValidation, s)
	}
	fields := 0
	if err := scanDurationFields(datePart, "YMD", false, &fields); err != nil {
		return fmt.Errorf("%w: invalid duration %q", ErrValidation, s)
	}
	if hasT {
		if err := scanDurationFields(timePart, "HMS", true, &fields); err != nil {
			return fmt.Errorf("%w: invalid duration %q", ErrValidation, s)
		}
	}
	if fields == 0 {
		return fmt.Errorf("%w: invalid duration %q", ErrValidation, s)
	}
	return nil
}

func scanDurationFields(part, designators string, allowFraction bool, fields *int) error {
	i := 0
	lastDesignator := -1
	for i < len(part) {
		j := i
		sawDot := false
		for j < len(part) && (part[j] >= '0' && part[j] <= '9' || (allowFraction && part[j] == '.' && !sawDot)) {
			if part[j] == '.' {
				sawDot = true
			}
			j++
		}
		if j == i || j >= len(part) {
			return ErrValidation
		}
		d := strings.IndexByte(designators, part[j])
		if d < 0 || d <= lastDesignator {
			return ErrValidation
		}
		if sawDot && part[j] != 'S' {
			return ErrValidation
		}
		lastDesignator = d
		*fields++
		i = j + 1
	}
	return nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
