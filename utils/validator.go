package utils

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
)

// Minimal internal validator to avoid external dependency. Supports:
// - required (non-empty string, non-zero numeric)
// - email (basic RFC-ish shape, normalized elsewhere)
// - phone10 (Indian mobile: 10 digits, optional +91/0 prefix)
// - nameok (letters, numbers, space, hyphen, apostrophe, dot, 1-100 chars)
// - pincode (6 digits)

var (
	reEmail   = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	rePhone10 = regexp.MustCompile(`^(\+91|0)?[6-9][0-9]{9}$`)
	reNameOK  = regexp.MustCompile(`^[A-Za-z0-9 .\-']{1,100}$`)
	rePincode = regexp.MustCompile(`^[1-9][0-9]{5}$`)
)

// ValidateStruct inspects struct tags `validate:"..."` and returns the first error encountered.
func ValidateStruct(s interface{}) error {
	v := reflect.ValueOf(s)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return errors.New("ValidateStruct expects a struct or pointer to struct")
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("validate")
		if tag == "" {
			continue
		}
		parts := strings.Split(tag, ",")
		fv := v.Field(i)
		var sval string
		if fv.IsValid() && fv.Kind() == reflect.String {
			sval = strings.TrimSpace(fv.String())
		}
		for _, p := range parts {
			p = strings.TrimSpace(p)
			switch {
			case p == "required":
				switch fv.Kind() {
				case reflect.String:
					if sval == "" {
						return errors.New(field.Name + " is required")
					}
				case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
					if fv.Int() == 0 {
						return errors.New(field.Name + " is required")
					}
				case reflect.Float32, reflect.Float64:
					if fv.Float() == 0 {
						return errors.New(field.Name + " is required")
					}
				default:
					if fv.IsZero() {
						return errors.New(field.Name + " is required")
					}
				}
			case p == "email":
				if sval != "" && !reEmail.MatchString(sval) {
					return errors.New(field.Name + " must be a valid email address")
				}
			case p == "phone10":
				if sval != "" && !rePhone10.MatchString(sval) {
					return errors.New(field.Name + " must be a valid 10-digit mobile number")
				}
			case p == "nameok":
				if sval != "" && !reNameOK.MatchString(sval) {
					return errors.New(field.Name + " contains invalid characters")
				}
			case p == "pincode":
				if sval != "" && !rePincode.MatchString(sval) {
					return errors.New(field.Name + " must be a 6-digit PIN code")
				}
			}
		}
	}
	return nil
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
