package models

// LoadedXML is the text content of a selected XML claim document.
type LoadedXML struct {
	Name    string `json:"name" msgpack:"name"`
	Content string `json:"content" msgpack:"content"`
}

// LoadedPDF is a selected PDF attachment encoded as standard base64.
type LoadedPDF struct {
	Name string `json:"name" msgpack:"name"`
	Data string `json:"data" msgpack:"data"`
}

// EstimatedSize returns the decoded size estimated from the base64 length.
func (p LoadedPDF) EstimatedSize() int64 {
	return int64(len(p.Data)) * 3 / 4
}

// Batch is a group of PDF attachments submitted together in one request.
type Batch struct {
	Index int         `json:"index"`
	Items []LoadedPDF `json:"-"`
	Large bool        `json:"large"`
}

// Names returns the attachment names of the batch in order.
func (b Batch) Names() []string {
	names := make([]string, len(b.Items))
	for i, item := range b.Items {
		names[i] = item.Name
	}
	return names
}
