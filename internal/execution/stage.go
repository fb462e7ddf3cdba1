package execution

import (
	"fmt"
	"strings"
)

// Stage is a bot's promotion level. Only LIVE routes real orders.
type Stage string

const (
	StageLab    Stage = "LAB"
	StageTrials Stage = "TRIALS"
	StagePaper  Stage = "PAPER"
	StageShadow Stage = "SHADOW"
	StageCanary Stage = "CANARY"
	StageLive   Stage = "LIVE"
)

// ParseStage normalizes a stored stage string. Unknown values map to LAB,
// the safest level.
func ParseStage(s string) Stage {
	switch Stage(strings.ToUpper(strings.TrimSpace(s))) {
	case StageLab, StageTrials, StagePaper, StageShadow, StageCanary, StageLive:
		return Stage(strings.ToUpper(strings.TrimSpace(s)))
	default:
		return StageLab
	}
}

// ConfigStore reads operator key-value settings. The bot stage lives under
// "stage:<botID>".
type ConfigStore interface {
	GetConfig(key string) (string, error)
}

// BrokerSession exposes the credential and token state the gate inspects.
type BrokerSession interface {
	HasCredentials() bool
	TokenValid() bool
}

// RouteDecision is the gate's verdict for one order.
type RouteDecision struct {
	Live   bool
	Stage  Stage
	Reason string
}

// Gate decides, per order, whether to route live or simulate. The checks
// run in strict precedence order: the global simulation override wins over
// everything, then missing credentials, then an unverified auth token, then
// a stage below LIVE. Only a LIVE stage with verified credentials routes to
// the broker.
type Gate struct {
	simulationOverride bool
	session            BrokerSession
	store              ConfigStore
	botID              string
}

// NewGate builds a stage gate for one bot identity.
func NewGate(simulationOverride bool, session BrokerSession, store ConfigStore, botID string) *Gate {
	return &Gate{
		simulationOverride: simulationOverride,
		session:            session,
		store:              store,
		botID:              botID,
	}
}

// stageKey is the KV key holding a bot's stage.
func stageKey(botID string) string {
	return "stage:" + botID
}

// Decide evaluates the gate. It is called for every order, never cached:
// stage demotions and token expiry must take effect immediately.
func (g *Gate) Decide() RouteDecision {
	stage := g.currentStage()

	if g.simulationOverride {
		return RouteDecision{Live: false, Stage: stage, Reason: "simulation override active"}
	}
	if g.session == nil || !g.session.HasCredentials() {
		return RouteDecision{Live: false, Stage: stage, Reason: "no broker credentials"}
	}
	if !g.session.TokenValid() {
		return RouteDecision{Live: false, Stage: stage, Reason: "auth token not verified"}
	}
	if stage != StageLive {
		return RouteDecision{Live: false, Stage: stage, Reason: fmt.Sprintf("stage %s below LIVE", stage)}
	}
	return RouteDecision{Live: true, Stage: stage, Reason: "stage LIVE with verified credentials"}
}

func (g *Gate) currentStage() Stage {
	if g.store == nil {
		return StageLab
	}
	raw, err := g.store.GetConfig(stageKey(g.botID))
	if err != nil || raw == "" {
		return StageLab
	}
	return ParseStage(raw)
}
