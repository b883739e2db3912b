package dropify

import (
	"encoding/json"
	"fmt"

	"github.com/vovakirdan/dropify-sdk/dropify-sdk-go/dropify/model"
)

const (
	eventNewDrop    = "NEW_DROP"
	eventDeleteDrop = "DELETE_DROP"
)

// Inbound is the flat envelope the backend sends over the channel.
type Inbound struct {
	Event         string         `json:"event"`
	ID            *int64         `json:"id"`
	Type          model.DropKind `json:"type,omitempty"`
	Content       string         `json:"content,omitempty"`
	Path          string         `json:"path,omitempty"`
	CreatedAt     string         `json:"created_at,omitempty"`
	ExpiresAt     *string        `json:"expires_at,omitempty"`
	BurnAfterRead bool           `json:"burn_after_read,omitempty"`
}

// ParseEvent decodes and validates one channel message. It never fails:
// anything that cannot be applied comes back as a MalformedEvent.
func ParseEvent(data []byte) Event {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return MalformedEvent{Raw: data, Err: err}
	}

	switch in.Event {
	case eventNewDrop:
		if in.ID == nil {
			return MalformedEvent{Raw: data, Err: fmt.Errorf("%s without id", in.Event)}
		}
		if !in.Type.Valid() {
			return MalformedEvent{Raw: data, Err: fmt.Errorf("%s with unknown type %q", in.Event, in.Type)}
		}
		if in.Type == model.KindFile && in.Path == "" {
			return MalformedEvent{Raw: data, Err: fmt.Errorf("%s file drop %d without path", in.Event, *in.ID)}
		}
		return NewDropEvent{Drop: model.Drop{
			ID:            *in.ID,
			Type:          in.Type,
			Content:       in.Content,
			Path:          in.Path,
			CreatedAt:     in.CreatedAt,
			ExpiresAt:     in.ExpiresAt,
			BurnAfterRead: in.BurnAfterRead,
		}}
	case eventDeleteDrop:
		if in.ID == nil {
			return MalformedEvent{Raw: data, Err: fmt.Errorf("%s without id", in.Event)}
		}
		return DeleteDropEvent{ID: *in.ID}
	case "":
		return MalformedEvent{Raw: data, Err: fmt.Errorf("missing event field")}
	default:
		return UnknownEvent{Name: in.Event, Raw: data}
	}
}
