package model

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
)

// Error is the SIF errorType payload returned on failed requests.
type Error struct {
	XMLName     xml.Name `xml:"error"`
	Xmlns       string   `xml:"xmlns,attr,omitempty"`
	ID          string   `xml:"id,attr"`
	Code        int      `xml:"code"`
	Scope       string   `xml:"scope"`
	Message     string   `xml:"message"`
	Description string   `xml:"description,omitempty"`
}

// Jobs is the collection wrapper for job listings.
type Jobs struct {
	XMLName xml.Name `xml:"jobs"`
	Xmlns   string   `xml:"xmlns,attr,omitempty"`
	Jobs    []Job    `xml:"job"`
}

// Encode writes v as an XML document in the infrastructure namespace.
func Encode(w io.Writer, v any) error {
	switch doc := v.(type) {
	case *Environment:
		doc.Xmlns = Namespace
	case *Job:
		doc.Xmlns = Namespace
	case *Jobs:
		doc.Xmlns = Namespace
		for i := range doc.Jobs {
			doc.Jobs[i].Xmlns = ""
		}
	case *Error:
		doc.Xmlns = Namespace
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %T: %w", v, err)
	}
	return enc.Flush()
}

// Marshal is Encode into a byte slice.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads an XML document into v. Documents with or without the
// infrastructure namespace are accepted.
func Decode(r io.Reader, v any) error {
	if err := xml.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}
