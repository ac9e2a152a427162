package analysis

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/nivo-analytics/screener-cli/internal/model"
)

const systemPromptDeep = "Du är en expert på svensk företagsanalys och förvärv. " +
	"Ge detaljerade, professionella bedömningar baserat på finansiell data och marknadsanalys."

const systemPromptScreening = "Du är en expert på svensk företagsanalys och förvärv. " +
	"Ge korta, precisa bedömningar."

// svPrinter renders numbers with Swedish separators: space for
// thousands, comma for decimals.
var svPrinter = message.NewPrinter(language.Swedish)

func formatTSEK(v *float64) string {
	if v == nil {
		return "Okänd"
	}
	return svPrinter.Sprint(number.Decimal(*v, number.MaxFractionDigits(0))) + " TSEK"
}

func formatPercent(v *float64) string {
	if v == nil {
		return "Okänd"
	}
	return svPrinter.Sprint(number.Decimal(*v, number.MaxFractionDigits(1))) + " %"
}

func orUnknown(s string) string {
	if s == "" {
		return "Okänd"
	}
	return s
}

func formatEmployees(v *int) string {
	if v == nil {
		return "Okänt"
	}
	return fmt.Sprintf("%d", *v)
}

// companyFacts renders the shared company header of both prompt kinds.
func companyFacts(snap *model.Snapshot, history []model.FinancialYear) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Företag: %s\n", snap.Name)
	fmt.Fprintf(&b, "Organisationsnummer: %s\n", snap.OrgNr)
	fmt.Fprintf(&b, "Bransch: %s\n", orUnknown(snap.Segment))
	fmt.Fprintf(&b, "Stad: %s\n", orUnknown(snap.City))
	fmt.Fprintf(&b, "Hemsida: %s\n", orUnknown(snap.Homepage))
	fmt.Fprintf(&b, "Anställda: %s\n", formatEmployees(snap.Employees))

	b.WriteString("\nFINANSIELL DATA (från registret):\n")
	var latest *model.FinancialYear
	if len(history) > 0 {
		latest = &history[0]
	}
	if latest != nil {
		fmt.Fprintf(&b, "Nettoomsättning (SDI): %s\n", formatTSEK(latest.RevenueSDI))
		fmt.Fprintf(&b, "Årets resultat (DR): %s\n", formatTSEK(latest.NetResultDR))
		fmt.Fprintf(&b, "Rörelseresultat (ORS): %s\n", formatTSEK(latest.EBITDAORs))
		fmt.Fprintf(&b, "Eget kapital (EK): %s\n", formatTSEK(latest.EquityEK))
		fmt.Fprintf(&b, "Skulder (SV): %s\n", formatTSEK(latest.DebtSV))
	}
	fmt.Fprintf(&b, "Tillväxt: %s\n", formatPercent(snap.RevenueGrowth))
	fmt.Fprintf(&b, "EBIT-marginal: %s\n", formatPercent(snap.EBITMargin))
	fmt.Fprintf(&b, "Nettovinstmarginal: %s\n", formatPercent(snap.NetProfitMargin))

	if len(history) > 1 {
		b.WriteString("\nHISTORIK (senaste åren, TSEK):\n")
		for _, y := range history {
			fmt.Fprintf(&b, "%d: omsättning %s, resultat %s\n",
				y.Year, formatTSEK(y.RevenueSDI), formatTSEK(y.NetResultDR))
		}
	}

	return b.String()
}

func buildDeepPrompt(snap *model.Snapshot, history []model.FinancialYear, instructions string) string {
	var b strings.Builder

	b.WriteString("Genomför en djupgående förvärvsanalys av detta svenska företag:\n\n")
	b.WriteString("FÖRETAGSINFORMATION:\n")
	b.WriteString(companyFacts(snap, history))

	b.WriteString(`
FINANSIELL ANALYS:
Baserat på de tillgängliga nyckeltalen, analysera:
- Finansiell hälsa: omsättning, vinst, marginaler
- Tillväxtpotential: omsättningstillväxt och trend
- Lönsamhet: EBIT-marginal och nettovinstmarginal
- Förvärvsattraktivitet: storlek, bransch, digital närvaro
`)

	if instructions != "" {
		fmt.Fprintf(&b, "\nSPECIFIKA INSTRUKTIONER: %s\n", instructions)
	}

	b.WriteString(`
Svara ENDAST med giltig JSON utan markdown-formatering:

{
  "executiveSummary": "Kort executive summary på 2-3 meningar",
  "keyFindings": ["Viktigt fynd 1", "Viktigt fynd 2"],
  "narrative": "Detaljerad analys på 3-4 stycken",
  "strengths": ["Styrka 1"],
  "weaknesses": ["Svaghet 1"],
  "opportunities": ["Möjlighet 1"],
  "risks": ["Risk 1"],
  "recommendation": "Pursue",
  "confidence": 80,
  "riskScore": 25,
  "financialGrade": "B",
  "commercialGrade": "A",
  "operationalGrade": "B",
  "financialMetrics": {"revenue": 150000, "profit": 7000},
  "nextSteps": ["Nästa steg 1"]
}

Fältregler: recommendation är en av "Pursue", "Consider", "Decline".
confidence och riskScore är heltal 0-100. Betyg är A-F.
financialMetrics anges i TSEK.

VIKTIGT: Svara ENDAST med JSON-objektet ovan, utan ytterligare text eller markdown-formatering.`)

	return b.String()
}

func buildScreeningPrompt(snap *model.Snapshot, history []model.FinancialYear, instructions string) string {
	var b strings.Builder

	b.WriteString("Analysera detta svenska företag för förvärvsintresse:\n\n")
	b.WriteString(companyFacts(snap, history))

	if instructions != "" {
		fmt.Fprintf(&b, "\nSpecifika instruktioner: %s\n", instructions)
	}

	b.WriteString(`
Ge en snabb bedömning (1-100 poäng) baserat på:
- Finansiell hälsa (SDI, DR, ORS, marginaler)
- Lönsamhet (EBIT-marginal, nettovinstmarginal)
- Tillväxtpotential (omsättningstillväxt, trend)
- Förvärvsattraktivitet (storlek, bransch, digital närvaro)

Svara ENDAST med giltig JSON utan markdown-formatering:
{
  "screeningScore": 85,
  "riskFlag": "Low",
  "briefSummary": "Kort sammanfattning på 2-3 meningar"
}

riskFlag är en av "Low", "Medium", "High".

VIKTIGT: Svara ENDAST med JSON-objektet ovan, utan ytterligare text eller markdown-formatering.`)

	return b.String()
}
