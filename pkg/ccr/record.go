package ccr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
)

// PackageRecord is a package as described by the RPC endpoint at the time it was fetched.
//
// The service encodes values either as strings or numbers, both end up as their string form.
type PackageRecord struct {
	ID             string `json:"ID" validate:"required,numeric"`
	Name           string `json:"Name" validate:"required"`
	Version        string `json:"Version"`
	CategoryID     string `json:"CategoryID"`
	Description    string `json:"Description"`
	URL            string `json:"URL"`
	URLPath        string `json:"URLPath"`
	License        string `json:"License"`
	NumVotes       string `json:"NumVotes"`
	OutOfDate      string `json:"OutOfDate"`
	Maintainer     string `json:"Maintainer"`
	MaintainerUID  string `json:"MaintainerUID"`
	FirstSubmitted string `json:"FirstSubmitted"`
	LastModified   string `json:"LastModified"`

	fields map[string]string
}

func (r *PackageRecord) known() map[string]*string {
	return map[string]*string{
		"ID":             &r.ID,
		"Name":           &r.Name,
		"Version":        &r.Version,
		"CategoryID":     &r.CategoryID,
		"Description":    &r.Description,
		"URL":            &r.URL,
		"URLPath":        &r.URLPath,
		"License":        &r.License,
		"NumVotes":       &r.NumVotes,
		"OutOfDate":      &r.OutOfDate,
		"Maintainer":     &r.Maintainer,
		"MaintainerUID":  &r.MaintainerUID,
		"FirstSubmitted": &r.FirstSubmitted,
		"LastModified":   &r.LastModified,
	}
}

func stringifyJson(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", nil
	}
	switch raw[0] {
	case '"':
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	case 'n':
		return "", nil
	default:
		// numbers and booleans keep their literal text, objects and arrays are kept as json
		return string(raw), nil
	}
}

func (r *PackageRecord) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	err := json.Unmarshal(data, &raw)
	if err != nil {
		return err
	}

	*r = PackageRecord{fields: make(map[string]string, len(raw))}
	known := r.known()
	for key, value := range raw {
		str, err := stringifyJson(value)
		if err != nil {
			return fmt.Errorf("field %s: %w", key, err)
		}
		r.fields[key] = str
		if ptr, ok := known[key]; ok {
			*ptr = str
		}
	}
	return nil
}

func (r PackageRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Fields())
}

// Field returns any field of the record by the name the service gave it, including fields
// this library does not know about.
func (r PackageRecord) Field(name string) (string, error) {
	if value, ok := r.fields[name]; ok {
		return value, nil
	}
	if ptr, ok := r.known()[name]; ok && *ptr != "" {
		return *ptr, nil
	}
	return "", fmt.Errorf("%w: %s", ErrMissingField, name)
}

// Fields returns a copy of every field of the record.
func (r PackageRecord) Fields() map[string]string {
	out := make(map[string]string, len(r.fields)+len(r.known()))
	for name, ptr := range r.known() {
		if *ptr != "" {
			out[name] = *ptr
		}
	}
	for name, value := range r.fields {
		out[name] = value
	}
	return out
}

func (r PackageRecord) Validate() error {
	validate := validator.New()
	err := validate.Struct(r)
	if err != nil {
		return fmt.Errorf("%w: package record: %w", ErrInvalidResponse, err)
	}
	return nil
}

// Votes is NumVotes as a number, 0 when it is missing or malformed.
func (r PackageRecord) Votes() int {
	n, err := strconv.Atoi(r.NumVotes)
	if err != nil {
		return 0
	}
	return n
}
