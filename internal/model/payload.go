package model

import "encoding/json"

// Payload: закрытый набор тел сообщения, по варианту на тип.
type Payload interface {
	ContentType() ContentType
	apply(m *Message)
}

// File: сохранённое вложение.
type File struct {
	URL  string
	Name string
	Size int64
}

type Text struct {
	Body string
}

type Image struct {
	File         File
	ThumbnailURL string
	Caption      string
}

type Video struct {
	File         File
	ThumbnailURL string
	Duration     int
	Caption      string
}

type Audio struct {
	File     File
	Duration int
	Caption  string
}

type Document struct {
	File    File
	Caption string
}

type Location struct {
	URL      string
	Metadata json.RawMessage
	Caption  string
}

type Link struct {
	URL      string
	Metadata json.RawMessage
	Caption  string
}

func (Text) ContentType() ContentType     { return ContentTypeText }
func (Image) ContentType() ContentType    { return ContentTypeImage }
func (Video) ContentType() ContentType    { return ContentTypeVideo }
func (Audio) ContentType() ContentType    { return ContentTypeAudio }
func (Document) ContentType() ContentType { return ContentTypeDocument }
func (Location) ContentType() ContentType { return ContentTypeLocation }
func (Link) ContentType() ContentType     { return ContentTypeLink }

func (p Text) apply(m *Message) {
	m.Content = &p.Body
}

func (p Image) apply(m *Message) {
	p.File.apply(m)
	m.ThumbnailURL = optional(p.ThumbnailURL)
	m.Content = optional(p.Caption)
}

func (p Video) apply(m *Message) {
	p.File.apply(m)
	m.ThumbnailURL = optional(p.ThumbnailURL)
	m.Duration = optionalInt(p.Duration)
	m.Content = optional(p.Caption)
}

func (p Audio) apply(m *Message) {
	p.File.apply(m)
	m.Duration = optionalInt(p.Duration)
	m.Content = optional(p.Caption)
}

func (p Document) apply(m *Message) {
	p.File.apply(m)
	m.Content = optional(p.Caption)
}

func (p Location) apply(m *Message) {
	m.FileURL = optional(p.URL)
	m.Metadata = p.Metadata
	m.Content = optional(p.Caption)
}

func (p Link) apply(m *Message) {
	m.FileURL = optional(p.URL)
	m.Metadata = p.Metadata
	m.Content = optional(p.Caption)
}

func (f File) apply(m *Message) {
	m.FileURL = optional(f.URL)
	m.FileName = optional(f.Name)
	if f.Size > 0 {
		size := f.Size
		m.FileSize = &size
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optionalInt(n int) *int {
	if n <= 0 {
		return nil
	}
	return &n
}
