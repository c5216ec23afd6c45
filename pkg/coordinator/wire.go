package coordinator

import (
	"fmt"
	"strings"

	"github.com/csremote/broker/pkg/session"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// roleFields mark a signaling frame as a role declaration, user_type is
// what older browser builds send.
var roleFields = []string{"role", "user_type"}

// ChatFrame is a chat message as sent by a browser.
type ChatFrame struct {
	Identity session.Identity `json:"identity" validate:"required,gt=0"`
	Text     string           `json:"text" validate:"required"`
}

// chatWire also takes the field names of older browser builds.
type chatWire struct {
	Identity       session.Identity `json:"identity"`
	Text           string           `json:"text"`
	LegacyIdentity session.Identity `json:"usuario_id"`
	LegacyText     string           `json:"mensagem"`
}

func (w chatWire) frame() ChatFrame {
	f := ChatFrame{Identity: w.Identity, Text: w.Text}
	if f.Identity == 0 {
		f.Identity = w.LegacyIdentity
	}
	if f.Text == "" {
		f.Text = w.LegacyText
	}
	return f
}

type frameReader struct {
	validate *validator.Validate
	textRule string
}

func newFrameReader(maxText int) frameReader {
	if maxText <= 0 {
		maxText = 4000
	}
	return frameReader{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		textRule: fmt.Sprintf("max=%d", maxText),
	}
}

func (fr frameReader) chat(raw []byte) (ChatFrame, error) {
	var w chatWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return ChatFrame{}, fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	}
	f := w.frame()
	f.Text = strings.TrimSpace(f.Text)
	if err := fr.validate.Struct(f); err != nil {
		return f, fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	}
	if err := fr.validate.Var(f.Text, fr.textRule); err != nil {
		return f, fmt.Errorf("%w: text too long", ErrProtocolViolation)
	}
	return f, nil
}

// signal reads a signaling frame. Any JSON object is accepted, one with
// a role field (see roleFields) is a role declaration and has no payload
// for the other leg.
func (fr frameReader) signal(raw []byte) (role session.Role, declared bool, err error) {
	var obj map[string]json.RawMessage
	if err = json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return "", false, fmt.Errorf("%w: not a json object", ErrProtocolViolation)
	}
	var v json.RawMessage
	for _, name := range roleFields {
		if v, declared = obj[name]; declared {
			break
		}
	}
	if !declared {
		return "", false, nil
	}
	var name string
	if err = json.Unmarshal(v, &name); err != nil {
		return "", true, fmt.Errorf("%w: role is not a string", ErrProtocolViolation)
	}
	if role, err = session.ParseRole(name); err != nil {
		return "", true, fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	}
	return role, true, nil
}
