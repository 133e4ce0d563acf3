package patterns

import "strings"

// EntityType is a canonical entity type drawn from a closed enumeration.
// Pattern files may declare aliases; every declared type is canonicalised
// through the alias map at load time and never accepted as a new value.
type EntityType string

// Judicial and court entities.
const (
	EntityCourt            EntityType = "COURT"
	EntitySupremeCourt     EntityType = "SUPREME_COURT"
	EntityAppellateCourt   EntityType = "APPELLATE_COURT"
	EntityDistrictCourt    EntityType = "DISTRICT_COURT"
	EntityBankruptcyCourt  EntityType = "BANKRUPTCY_COURT"
	EntityStateCourt       EntityType = "STATE_COURT"
	EntityJudge            EntityType = "JUDGE"
	EntityChiefJudge       EntityType = "CHIEF_JUDGE"
	EntityMagistrateJudge  EntityType = "MAGISTRATE_JUDGE"
	EntityJustice          EntityType = "JUSTICE"
	EntityArbitrator       EntityType = "ARBITRATOR"
	EntityMediator         EntityType = "MEDIATOR"
	EntityCourtClerk       EntityType = "COURT_CLERK"
	EntityCourtReporter    EntityType = "COURT_REPORTER"
	EntityJury             EntityType = "JURY"
	EntityGrandJury        EntityType = "GRAND_JURY"
	EntitySpecialMaster    EntityType = "SPECIAL_MASTER"
	EntityReceiver         EntityType = "RECEIVER"
	EntityTrustee          EntityType = "TRUSTEE"
	EntityGuardianAdLitem  EntityType = "GUARDIAN_AD_LITEM"
)

// Parties and representatives.
const (
	EntityParty            EntityType = "PARTY"
	EntityPlaintiff        EntityType = "PLAINTIFF"
	EntityDefendant        EntityType = "DEFENDANT"
	EntityAppellant        EntityType = "APPELLANT"
	EntityAppellee         EntityType = "APPELLEE"
	EntityPetitioner       EntityType = "PETITIONER"
	EntityRespondent       EntityType = "RESPONDENT"
	EntityIntervenor       EntityType = "INTERVENOR"
	EntityAmicusCuriae     EntityType = "AMICUS_CURIAE"
	EntityThirdParty       EntityType = "THIRD_PARTY"
	EntityClassMember      EntityType = "CLASS_MEMBER"
	EntityAttorney         EntityType = "ATTORNEY"
	EntityProsecutor       EntityType = "PROSECUTOR"
	EntityPublicDefender   EntityType = "PUBLIC_DEFENDER"
	EntityLawFirm          EntityType = "LAW_FIRM"
	EntityGeneralCounsel   EntityType = "GENERAL_COUNSEL"
	EntityWitness          EntityType = "WITNESS"
	EntityExpertWitness    EntityType = "EXPERT_WITNESS"
	EntityVictim           EntityType = "VICTIM"
	EntityCorporation      EntityType = "CORPORATION"
	EntityPartnership      EntityType = "PARTNERSHIP"
	EntityLLC              EntityType = "LLC"
	EntityGovernmentAgency EntityType = "GOVERNMENT_AGENCY"
	EntityNonprofit        EntityType = "NONPROFIT"
	EntityIndividual       EntityType = "INDIVIDUAL"
	EntityEstate           EntityType = "ESTATE"
	EntityTrust            EntityType = "TRUST"
	EntityInsurer          EntityType = "INSURER"
	EntityCreditor         EntityType = "CREDITOR"
	EntityDebtor           EntityType = "DEBTOR"
)

// Documents and filings.
const (
	EntityComplaint          EntityType = "COMPLAINT"
	EntityAnswer             EntityType = "ANSWER"
	EntityMotion             EntityType = "MOTION"
	EntityBrief              EntityType = "BRIEF"
	EntityMemorandum         EntityType = "MEMORANDUM"
	EntityOrder              EntityType = "ORDER"
	EntityJudgment           EntityType = "JUDGMENT"
	EntityOpinion            EntityType = "OPINION"
	EntityVerdict            EntityType = "VERDICT"
	EntityDecree             EntityType = "DECREE"
	EntityInjunction         EntityType = "INJUNCTION"
	EntitySubpoena           EntityType = "SUBPOENA"
	EntitySummons            EntityType = "SUMMONS"
	EntityWarrant            EntityType = "WARRANT"
	EntityIndictment         EntityType = "INDICTMENT"
	EntityPleading           EntityType = "PLEADING"
	EntityAffidavit          EntityType = "AFFIDAVIT"
	EntityDeclaration        EntityType = "DECLARATION"
	EntityDeposition         EntityType = "DEPOSITION"
	EntityInterrogatory      EntityType = "INTERROGATORY"
	EntityExhibit            EntityType = "EXHIBIT"
	EntityStipulation        EntityType = "STIPULATION"
	EntitySettlementAgrmt    EntityType = "SETTLEMENT_AGREEMENT"
	EntityContract           EntityType = "CONTRACT"
	EntityLease              EntityType = "LEASE"
	EntityDeed               EntityType = "DEED"
	EntityWill               EntityType = "WILL"
	EntityPowerOfAttorney    EntityType = "POWER_OF_ATTORNEY"
	EntityLicenseAgreement   EntityType = "LICENSE_AGREEMENT"
	EntityNoticeOfAppeal     EntityType = "NOTICE_OF_APPEAL"
	EntityDocketEntry        EntityType = "DOCKET_ENTRY"
	EntityTranscript         EntityType = "TRANSCRIPT"
)

// Legal authorities and instruments.
const (
	EntityStatute            EntityType = "STATUTE"
	EntityRegulation         EntityType = "REGULATION"
	EntityConstitutionalProv EntityType = "CONSTITUTIONAL_PROVISION"
	EntityOrdinance          EntityType = "ORDINANCE"
	EntityRule               EntityType = "RULE"
	EntityTreaty             EntityType = "TREATY"
	EntityExecutiveOrder     EntityType = "EXECUTIVE_ORDER"
	EntityLegalDoctrine      EntityType = "LEGAL_DOCTRINE"
	EntityLegalStandard      EntityType = "LEGAL_STANDARD"
	EntityCauseOfAction      EntityType = "CAUSE_OF_ACTION"
	EntityClaim              EntityType = "CLAIM"
	EntityDefense            EntityType = "DEFENSE"
	EntityRemedy             EntityType = "REMEDY"
	EntityCharge             EntityType = "CHARGE"
	EntityLegalConcept       EntityType = "LEGAL_CONCEPT"
)

// Procedural and temporal entities.
const (
	EntityCaseNumber       EntityType = "CASE_NUMBER"
	EntityCaseName         EntityType = "CASE_NAME"
	EntityDocketNumber     EntityType = "DOCKET_NUMBER"
	EntityFilingDate       EntityType = "FILING_DATE"
	EntityDecisionDate     EntityType = "DECISION_DATE"
	EntityHearingDate      EntityType = "HEARING_DATE"
	EntityTrialDate        EntityType = "TRIAL_DATE"
	EntityDeadline         EntityType = "DEADLINE"
	EntityDate             EntityType = "DATE"
	EntityStatuteOfLimit   EntityType = "STATUTE_OF_LIMITATIONS"
	EntityProceduralPhase  EntityType = "PROCEDURAL_PHASE"
	EntityHearingType      EntityType = "HEARING_TYPE"
	EntityDisposition      EntityType = "DISPOSITION"
	EntityAppealStatus     EntityType = "APPEAL_STATUS"
)

// Financial entities.
const (
	EntityMonetaryAmount   EntityType = "MONETARY_AMOUNT"
	EntityDamages          EntityType = "DAMAGES"
	EntityPunitiveDamages  EntityType = "PUNITIVE_DAMAGES"
	EntitySettlementAmount EntityType = "SETTLEMENT_AMOUNT"
	EntityFine             EntityType = "FINE"
	EntityPenalty          EntityType = "PENALTY"
	EntityBond             EntityType = "BOND"
	EntityFee              EntityType = "FEE"
	EntityAttorneyFees     EntityType = "ATTORNEY_FEES"
	EntityInterestRate     EntityType = "INTEREST_RATE"
	EntityLien             EntityType = "LIEN"
)

// Jurisdictional and geographic entities.
const (
	EntityJurisdiction    EntityType = "JURISDICTION"
	EntityVenue           EntityType = "VENUE"
	EntityState           EntityType = "STATE"
	EntityCounty          EntityType = "COUNTY"
	EntityCountry         EntityType = "COUNTRY"
	EntityCircuit         EntityType = "CIRCUIT"
	EntityDistrict        EntityType = "DISTRICT"
	EntityAddress         EntityType = "ADDRESS"
	EntityProperty        EntityType = "PROPERTY"
)

// canonicalEntityTypes is the closed enumeration. Membership here is the
// definition of "canonical"; the alias map may only point into this set.
var canonicalEntityTypes = map[EntityType]struct{}{}

func init() {
	for _, t := range []EntityType{
		EntityCourt, EntitySupremeCourt, EntityAppellateCourt, EntityDistrictCourt,
		EntityBankruptcyCourt, EntityStateCourt, EntityJudge, EntityChiefJudge,
		EntityMagistrateJudge, EntityJustice, EntityArbitrator, EntityMediator,
		EntityCourtClerk, EntityCourtReporter, EntityJury, EntityGrandJury,
		EntitySpecialMaster, EntityReceiver, EntityTrustee, EntityGuardianAdLitem,

		EntityParty, EntityPlaintiff, EntityDefendant, EntityAppellant, EntityAppellee,
		EntityPetitioner, EntityRespondent, EntityIntervenor, EntityAmicusCuriae,
		EntityThirdParty, EntityClassMember, EntityAttorney, EntityProsecutor,
		EntityPublicDefender, EntityLawFirm, EntityGeneralCounsel, EntityWitness,
		EntityExpertWitness, EntityVictim, EntityCorporation, EntityPartnership,
		EntityLLC, EntityGovernmentAgency, EntityNonprofit, EntityIndividual,
		EntityEstate, EntityTrust, EntityInsurer, EntityCreditor, EntityDebtor,

		EntityComplaint, EntityAnswer, EntityMotion, EntityBrief, EntityMemorandum,
		EntityOrder, EntityJudgment, EntityOpinion, EntityVerdict, EntityDecree,
		EntityInjunction, EntitySubpoena, EntitySummons, EntityWarrant,
		EntityIndictment, EntityPleading, EntityAffidavit, EntityDeclaration,
		EntityDeposition, EntityInterrogatory, EntityExhibit, EntityStipulation,
		EntitySettlementAgrmt, EntityContract, EntityLease, EntityDeed, EntityWill,
		EntityPowerOfAttorney, EntityLicenseAgreement, EntityNoticeOfAppeal,
		EntityDocketEntry, EntityTranscript,

		EntityStatute, EntityRegulation, EntityConstitutionalProv, EntityOrdinance,
		EntityRule, EntityTreaty, EntityExecutiveOrder, EntityLegalDoctrine,
		EntityLegalStandard, EntityCauseOfAction, EntityClaim, EntityDefense,
		EntityRemedy, EntityCharge, EntityLegalConcept,

		EntityCaseNumber, EntityCaseName, EntityDocketNumber, EntityFilingDate,
		EntityDecisionDate, EntityHearingDate, EntityTrialDate, EntityDeadline,
		EntityDate, EntityStatuteOfLimit, EntityProceduralPhase, EntityHearingType,
		EntityDisposition, EntityAppealStatus,

		EntityMonetaryAmount, EntityDamages, EntityPunitiveDamages,
		EntitySettlementAmount, EntityFine, EntityPenalty, EntityBond, EntityFee,
		EntityAttorneyFees, EntityInterestRate, EntityLien,

		EntityJurisdiction, EntityVenue, EntityState, EntityCounty, EntityCountry,
		EntityCircuit, EntityDistrict, EntityAddress, EntityProperty,
	} {
		canonicalEntityTypes[t] = struct{}{}
	}
}

// FallbackEntityType is assigned to declared types whose alias cannot be
// resolved. Unknown aliases are never promoted to new canonical values.
const FallbackEntityType = EntityLegalConcept

// IsCanonicalEntityType reports whether t is a member of the closed enumeration.
func IsCanonicalEntityType(t EntityType) bool {
	_, ok := canonicalEntityTypes[t]
	return ok
}

// CanonicalEntityTypes returns the full enumeration. The slice is a copy.
func CanonicalEntityTypes() []EntityType {
	out := make([]EntityType, 0, len(canonicalEntityTypes))
	for t := range canonicalEntityTypes {
		out = append(out, t)
	}
	return out
}

// builtinAliases maps common source names to canonical types. A separate
// alias file at the pattern root may extend (never override to non-canonical
// values) this table.
var builtinAliases = map[string]EntityType{
	"court_name":          EntityCourt,
	"federal_court":       EntityCourt,
	"tribunal":            EntityCourt,
	"judge_name":          EntityJudge,
	"judicial_officer":    EntityJudge,
	"magistrate":          EntityMagistrateJudge,
	"counsel":             EntityAttorney,
	"lawyer":              EntityAttorney,
	"attorney_name":       EntityAttorney,
	"firm":                EntityLawFirm,
	"law_office":          EntityLawFirm,
	"company":             EntityCorporation,
	"business_entity":     EntityCorporation,
	"agency":              EntityGovernmentAgency,
	"government_entity":   EntityGovernmentAgency,
	"person":              EntityIndividual,
	"natural_person":      EntityIndividual,
	"money":               EntityMonetaryAmount,
	"amount":              EntityMonetaryAmount,
	"dollar_amount":       EntityMonetaryAmount,
	"damages_award":       EntityDamages,
	"settlement":          EntitySettlementAmount,
	"date_filed":          EntityFilingDate,
	"date_decided":        EntityDecisionDate,
	"temporal":            EntityDate,
	"case_no":             EntityCaseNumber,
	"docket_no":           EntityDocketNumber,
	"case_caption":        EntityCaseName,
	"law":                 EntityStatute,
	"statutory_provision": EntityStatute,
	"code_section":        EntityStatute,
	"reg":                 EntityRegulation,
	"administrative_rule": EntityRegulation,
	"court_rule":          EntityRule,
	"procedural_rule":     EntityRule,
	"doctrine":            EntityLegalDoctrine,
	"legal_principle":     EntityLegalDoctrine,
	"concept":             EntityLegalConcept,
	"legal_term":          EntityLegalConcept,
	"location":            EntityJurisdiction,
	"forum":               EntityVenue,
	"contract_document":   EntityContract,
	"agreement":           EntityContract,
	"court_order":         EntityOrder,
	"ruling":              EntityOrder,
	"decision":            EntityOpinion,
	"holding":             EntityOpinion,
}

// AliasMap resolves declared entity-type names to canonical values.
type AliasMap struct {
	aliases map[string]EntityType
}

// NewAliasMap builds an alias map from the builtin table plus extra entries.
// Extra entries whose target is not canonical are dropped.
func NewAliasMap(extra map[string]EntityType) *AliasMap {
	m := make(map[string]EntityType, len(builtinAliases)+len(extra))
	for k, v := range builtinAliases {
		m[normaliseTypeName(k)] = v
	}
	for k, v := range extra {
		if IsCanonicalEntityType(v) {
			m[normaliseTypeName(k)] = v
		}
	}
	return &AliasMap{aliases: m}
}

// Canonical resolves name to a canonical entity type. Already-canonical names
// resolve to themselves. Unknown names resolve to the fallback with ok=false.
func (a *AliasMap) Canonical(name string) (EntityType, bool) {
	norm := normaliseTypeName(name)
	if IsCanonicalEntityType(EntityType(strings.ToUpper(norm))) {
		return EntityType(strings.ToUpper(norm)), true
	}
	if t, ok := a.aliases[norm]; ok {
		return t, true
	}
	return FallbackEntityType, false
}

// normaliseTypeName lowercases and converts separators so "Court Name",
// "court-name" and "COURT_NAME" all compare equal.
func normaliseTypeName(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, " ", "_")
	return name
}
