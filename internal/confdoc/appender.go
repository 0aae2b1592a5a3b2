// Package confdoc writes human readable documentation for configuration
// options as an XML fragment. It has no effect on runtime behaviour.
package confdoc

import (
	"encoding/xml"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Tag groups options in the generated documentation.
type Tag string

const (
	TagOzone       Tag = "OZONE"
	TagSCM         Tag = "SCM"
	TagDatanode    Tag = "DATANODE"
	TagManagement  Tag = "MANAGEMENT"
	TagPerformance Tag = "PERFORMANCE"
	TagStorage     Tag = "STORAGE"
	TagSecurity    Tag = "SECURITY"
	TagDebug       Tag = "DEBUG"
)

type property struct {
	Name        string `xml:"name"`
	Value       string `xml:"value"`
	Tag         string `xml:"tag"`
	Description string `xml:"description"`
}

type configuration struct {
	XMLName    xml.Name   `xml:"configuration"`
	Properties []property `xml:"property"`
}

// Appender collects option descriptions and renders them.
type Appender struct {
	doc *configuration
}

// Init starts a fresh document, dropping anything added before.
func (a *Appender) Init() {
	a.doc = &configuration{}
}

// AddConfig appends one option.
func (a *Appender) AddConfig(name, value, description string, tags ...Tag) {
	if a.doc == nil {
		a.Init()
	}
	names := make([]string, 0, len(tags))
	for _, t := range tags {
		names = append(names, string(t))
	}
	a.doc.Properties = append(a.doc.Properties, property{
		Name:        name,
		Value:       value,
		Tag:         strings.Join(names, ", "),
		Description: description,
	})
}

// Write renders the document with an XML header.
func (a *Appender) Write(w io.Writer) error {
	if a.doc == nil {
		a.Init()
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return errors.Wrap(err, "write header")
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(a.doc); err != nil {
		return errors.Wrap(err, "encode configuration")
	}
	_, err := io.WriteString(w, "\n")
	return errors.Wrap(err, "write trailer")
}
