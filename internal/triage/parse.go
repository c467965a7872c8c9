package triage

import (
	"context"

	"github.com/linnemanlabs/warden/internal/alert"
)

// parseStage extracts BaseInfo from the raw alert without any external call.
// A malformed or absent base_alert_info degrades to an empty BaseInfo rather
// than a stage failure.
type parseStage struct{}

func (parseStage) Name() string { return "parse_input" }

func (parseStage) Execute(_ context.Context, st *State) (*Update, error) {
	base := alert.ParseBaseInfo(st.RawAlert)
	return &Update{BaseInfo: &base}, nil
}
