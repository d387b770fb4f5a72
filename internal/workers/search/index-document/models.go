package indexdocument

type Input struct {
	DocumentType string `json:"documentType"`
	DocumentID   string `json:"documentId"`
	Operation    string `json:"operation,omitempty"`
}

type Output struct {
	IndexAction string `json:"indexAction"`
}
