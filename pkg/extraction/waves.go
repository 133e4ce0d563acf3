package extraction

import (
	"fmt"

	"github.com/casemark/lexext-cli/pkg/patterns"
	"github.com/casemark/lexext-cli/pkg/routing"
)

// Per-wave defaults. Entity waves run cold; the legacy final sweep runs
// slightly warmer to catch phrasing the earlier passes missed.
const (
	entityWaveTemperature = 0.1
	sweepWaveTemperature  = 0.3
	relWaveTemperature    = 0.2

	entityWaveMaxTokens = 4096
	singlePassMaxTokens = 1000
	relWaveMaxTokens    = 6000

	defaultWaveRetries = 2
)

// WaveSpec defines one extraction pass.
type WaveSpec struct {
	Number       int
	Name         string
	TargetTypes  []patterns.EntityType
	MaxTokens    int
	Temperature  float32
	Priority     int
	RetryCount   int
	Relationship bool
}

// WavePlan is the fixed sequence of waves for one strategy.
type WavePlan struct {
	Strategy routing.Strategy
	Waves    []WaveSpec
	Chunked  bool
}

// EntityWaves returns the non-relationship waves in priority order.
func (p *WavePlan) EntityWaves() []WaveSpec {
	var waves []WaveSpec
	for _, w := range p.Waves {
		if !w.Relationship {
			waves = append(waves, w)
		}
	}
	return waves
}

// RelationshipWave returns the relationship wave, if the plan has one.
func (p *WavePlan) RelationshipWave() (WaveSpec, bool) {
	for _, w := range p.Waves {
		if w.Relationship {
			return w, true
		}
	}
	return WaveSpec{}, false
}

// singlePassTypes is the consolidated closed set used when the whole
// document fits one prompt.
var singlePassTypes = []patterns.EntityType{
	patterns.EntityCourt,
	patterns.EntityJudge,
	patterns.EntityAttorney,
	patterns.EntityLawFirm,
	patterns.EntityPlaintiff,
	patterns.EntityDefendant,
	patterns.EntityParty,
	patterns.EntityCaseNumber,
	patterns.EntityCaseName,
	patterns.EntityMotion,
	patterns.EntityOrder,
	patterns.EntityStatute,
	patterns.EntityDate,
	patterns.EntityMonetaryAmount,
	patterns.EntityJurisdiction,
}

// Three-wave type groups: core actors, procedural record, supporting facts.
var (
	coreWaveTypes = []patterns.EntityType{
		patterns.EntityCourt,
		patterns.EntitySupremeCourt,
		patterns.EntityAppellateCourt,
		patterns.EntityDistrictCourt,
		patterns.EntityJudge,
		patterns.EntityMagistrateJudge,
		patterns.EntityAttorney,
		patterns.EntityLawFirm,
		patterns.EntityPlaintiff,
		patterns.EntityDefendant,
		patterns.EntityParty,
		patterns.EntityCorporation,
	}

	proceduralWaveTypes = []patterns.EntityType{
		patterns.EntityComplaint,
		patterns.EntityAnswer,
		patterns.EntityMotion,
		patterns.EntityBrief,
		patterns.EntityOrder,
		patterns.EntityJudgment,
		patterns.EntityOpinion,
		patterns.EntityCaseNumber,
		patterns.EntityDocketNumber,
		patterns.EntityFilingDate,
		patterns.EntityHearingDate,
	}

	supportingWaveTypes = []patterns.EntityType{
		patterns.EntityMonetaryAmount,
		patterns.EntityDamages,
		patterns.EntitySettlementAmount,
		patterns.EntityAttorneyFees,
		patterns.EntityStatute,
		patterns.EntityRegulation,
		patterns.EntityRule,
		patterns.EntityJurisdiction,
		patterns.EntityVenue,
		patterns.EntityDate,
		patterns.EntityLegalConcept,
	}
)

// eightWaveGroups is the legacy fine-grained plan, kept for explicit
// fallback requests only.
var eightWaveGroups = []struct {
	name  string
	types []patterns.EntityType
}{
	{"courts", []patterns.EntityType{
		patterns.EntityCourt, patterns.EntitySupremeCourt, patterns.EntityAppellateCourt,
		patterns.EntityDistrictCourt, patterns.EntityBankruptcyCourt, patterns.EntityStateCourt,
	}},
	{"judicial_officers", []patterns.EntityType{
		patterns.EntityJudge, patterns.EntityChiefJudge, patterns.EntityMagistrateJudge,
		patterns.EntityJustice, patterns.EntityArbitrator, patterns.EntityMediator,
	}},
	{"parties", []patterns.EntityType{
		patterns.EntityParty, patterns.EntityPlaintiff, patterns.EntityDefendant,
		patterns.EntityAppellant, patterns.EntityAppellee, patterns.EntityPetitioner,
		patterns.EntityRespondent, patterns.EntityIntervenor,
	}},
	{"counsel", []patterns.EntityType{
		patterns.EntityAttorney, patterns.EntityProsecutor, patterns.EntityPublicDefender,
		patterns.EntityLawFirm, patterns.EntityGeneralCounsel,
	}},
	{"documents", []patterns.EntityType{
		patterns.EntityComplaint, patterns.EntityAnswer, patterns.EntityMotion,
		patterns.EntityBrief, patterns.EntityOrder, patterns.EntityJudgment,
		patterns.EntityOpinion, patterns.EntityExhibit, patterns.EntityTranscript,
	}},
	{"procedural", []patterns.EntityType{
		patterns.EntityCaseNumber, patterns.EntityDocketNumber, patterns.EntityFilingDate,
		patterns.EntityDecisionDate, patterns.EntityHearingDate, patterns.EntityDeadline,
		patterns.EntityProceduralPhase, patterns.EntityDisposition,
	}},
	{"financial", []patterns.EntityType{
		patterns.EntityMonetaryAmount, patterns.EntityDamages, patterns.EntityPunitiveDamages,
		patterns.EntitySettlementAmount, patterns.EntityFine, patterns.EntityAttorneyFees,
		patterns.EntityInterestRate, patterns.EntityLien,
	}},
	{"legal_references", []patterns.EntityType{
		patterns.EntityStatute, patterns.EntityRegulation, patterns.EntityRule,
		patterns.EntityConstitutionalProv, patterns.EntityLegalDoctrine,
		patterns.EntityCauseOfAction, patterns.EntityLegalConcept,
	}},
}

// BuildWavePlan maps a routing decision to its fixed wave plan. Sentinel
// strategies have no plan.
func BuildWavePlan(decision *routing.RoutingDecision) (*WavePlan, error) {
	if decision == nil {
		return nil, fmt.Errorf("routing decision is required")
	}
	if decision.Strategy.IsSentinel() {
		return nil, fmt.Errorf("no wave plan for sentinel strategy %s", decision.Strategy)
	}

	plan := &WavePlan{Strategy: decision.Strategy}

	switch decision.Strategy {
	case routing.StrategySinglePass:
		plan.Waves = []WaveSpec{{
			Number:      1,
			Name:        "consolidated",
			TargetTypes: singlePassTypes,
			MaxTokens:   singlePassMaxTokens,
			Temperature: entityWaveTemperature,
			Priority:    1,
			RetryCount:  defaultWaveRetries,
		}}

	case routing.StrategyThreeWave, routing.StrategyThreeWaveChunked, routing.StrategyFourWave:
		plan.Waves = threeWaveSpecs()
		if decision.Strategy == routing.StrategyThreeWaveChunked {
			plan.Chunked = true
		}
		if decision.Strategy == routing.StrategyFourWave {
			plan.Waves = append(plan.Waves, WaveSpec{
				Number:       4,
				Name:         "relationships",
				MaxTokens:    relWaveMaxTokens,
				Temperature:  relWaveTemperature,
				Priority:     4,
				RetryCount:   defaultWaveRetries,
				Relationship: true,
			})
		}

	case routing.StrategyEightWaveFallback:
		for i, g := range eightWaveGroups {
			temp := float32(entityWaveTemperature)
			if i == len(eightWaveGroups)-1 {
				temp = sweepWaveTemperature
			}
			plan.Waves = append(plan.Waves, WaveSpec{
				Number:      i + 1,
				Name:        g.name,
				TargetTypes: g.types,
				MaxTokens:   entityWaveMaxTokens,
				Temperature: temp,
				Priority:    i + 1,
				RetryCount:  defaultWaveRetries,
			})
		}

	default:
		return nil, fmt.Errorf("unknown strategy %s", decision.Strategy)
	}

	return plan, nil
}

func threeWaveSpecs() []WaveSpec {
	groups := []struct {
		name  string
		types []patterns.EntityType
	}{
		{"core", coreWaveTypes},
		{"procedural", proceduralWaveTypes},
		{"supporting", supportingWaveTypes},
	}
	waves := make([]WaveSpec, 0, len(groups))
	for i, g := range groups {
		waves = append(waves, WaveSpec{
			Number:      i + 1,
			Name:        g.name,
			TargetTypes: g.types,
			MaxTokens:   entityWaveMaxTokens,
			Temperature: entityWaveTemperature,
			Priority:    i + 1,
			RetryCount:  defaultWaveRetries,
		})
	}
	return waves
}
