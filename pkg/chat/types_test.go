package chat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeAttachment(t *testing.T) {
	att, err := DecodeAttachment("invoice.pdf", "application/pdf", "JVBERi0xLjQ=")
	require.NoError(t, err)
	assert.Equal(t, "invoice.pdf", att.Filename)
	assert.Equal(t, "%PDF-1.4", string(att.Data))
	assert.Equal(t, "JVBERi0xLjQ=", att.Base64())

	_, err = DecodeAttachment("bad.pdf", "application/pdf", "not base64!!")
	assert.Error(t, err)
}

func TestAttachmentWireFormat(t *testing.T) {
	att := Attachment{Filename: "a.pdf", MimeType: "application/pdf", Data: []byte("%PDF")}
	raw, err := json.Marshal(att)
	require.NoError(t, err)
	assert.JSONEq(t, `{"filename":"a.pdf","mimetype":"application/pdf","data":"JVBERg=="}`, string(raw))
}

func TestInboundEventPredicates(t *testing.T) {
	ev := InboundEvent{Text: "hi"}
	assert.False(t, ev.HasMedia())
	assert.False(t, ev.HasQuotedMessage())

	ev.Media = &MediaRef{Ref: "m1"}
	ev.Quoted = &QuotedMessage{MessageID: "q1"}
	assert.True(t, ev.HasMedia())
	assert.True(t, ev.HasQuotedMessage())
}
