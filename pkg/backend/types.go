package backend

import (
	"bytes"
	"encoding/json"
)

// Scalar is a JSON string or number kept verbatim, so candidate ids and
// amounts round-trip exactly as the Processing Service sent them.
type Scalar struct {
	raw json.RawMessage
}

// ScalarOf builds a Scalar from a Go string or number.
func ScalarOf(v any) Scalar {
	b, err := json.Marshal(v)
	if err != nil {
		return Scalar{}
	}
	return Scalar{raw: b}
}

// IsZero reports whether the scalar is absent or null.
func (s Scalar) IsZero() bool {
	return len(s.raw) == 0 || bytes.Equal(s.raw, []byte("null"))
}

// String renders strings unquoted and numbers as written.
func (s Scalar) String() string {
	if s.IsZero() {
		return ""
	}
	if s.raw[0] == '"' {
		var str string
		if err := json.Unmarshal(s.raw, &str); err == nil {
			return str
		}
	}
	return string(s.raw)
}

// MarshalJSON implements json.Marshaler.
func (s Scalar) MarshalJSON() ([]byte, error) {
	if len(s.raw) == 0 {
		return []byte("null"), nil
	}
	return s.raw, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Scalar) UnmarshalJSON(b []byte) error {
	s.raw = append(s.raw[:0], b...)
	return nil
}

// Candidate is one approved payment request offered for selection.
type Candidate struct {
	ID            Scalar `json:"id"`
	CompanyName   string `json:"company_name"`
	InvoiceNumber Scalar `json:"invoice_number"`
	Amount        Scalar `json:"amount"`
	Currency      string `json:"currency"`
}

type candidatesResponse struct {
	Requests []Candidate `json:"requests"`
}

// IngestRequest forwards a received document.
type IngestRequest struct {
	Filename    string  `json:"filename"`
	Data        string  `json:"data"`
	MimeType    string  `json:"mimetype"`
	QuotedMsgID string  `json:"quoted_msg_id"`
	QuotedText  *string `json:"quoted_text"`
	Sender      string  `json:"sender"`
}

// LinkRequest attaches a document to a selected candidate.
type LinkRequest struct {
	PaymentRequestID Scalar `json:"payment_request_id"`
	Filename         string `json:"filename"`
	MimeType         string `json:"mimetype"`
	Data             string `json:"data"`
}

// LinkResult is the link endpoint's verdict.
type LinkResult struct {
	Success bool            `json:"success"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// ErrorText renders the reported error for a chat reply.
func (r LinkResult) ErrorText() string {
	if len(r.Error) == 0 || bytes.Equal(r.Error, []byte("null")) {
		return "undefined"
	}
	var s string
	if err := json.Unmarshal(r.Error, &s); err == nil {
		return s
	}
	return string(r.Error)
}

// MessagePayload is the canonical form of an inbound chat event.
type MessagePayload struct {
	From           string  `json:"from"`
	ID             string  `json:"id"`
	ChatID         string  `json:"chat_id"`
	Name           *string `json:"name"`
	IsGroup        bool    `json:"is_group"`
	Type           string  `json:"type"`
	IsReply        bool    `json:"is_reply"`
	QuotedMsgID    *string `json:"quoted_msg_id"`
	QuotedText     *string `json:"quoted_text"`
	Text           string  `json:"text"`
	Timestamp      int64   `json:"timestamp"`
	Filename       string  `json:"filename,omitempty"`
	Data           string  `json:"data,omitempty"`
	MimeType       string  `json:"mimetype,omitempty"`
	QuotedFilename string  `json:"quoted_filename,omitempty"`
	QuotedData     string  `json:"quoted_data,omitempty"`
	QuotedMimeType string  `json:"quoted_mimetype,omitempty"`
}

// MessageReply is what the message endpoint may ask the relay to say.
type MessageReply struct {
	Reply    string `json:"reply"`
	QuotedID string `json:"quoted_id"`
}
