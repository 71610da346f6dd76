package jobs

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/SamuelOjuri/TechnicalDesignAssistant/internal/reasoning"
	"github.com/SamuelOjuri/TechnicalDesignAssistant/pkg/log"
)

// ParameterNames lists the design parameters pulled out of the merged text,
// in output order. Exports and response shaping reuse the same order.
var ParameterNames = []string{
	"Email Subject", "Post Code", "Drawing Reference", "Drawing Title", "Revision",
	"Date Received", "Hour Received", "Company", "Contact", "Reason for Change",
	"Surveyor", "Target U-Value", "Target Min U-Value",
	"Fall of Tapered", "Tapered Insulation", "Decking",
}

const extractionQueryTemplate = `Extract the following design parameters from the documents for a TaperedPlus technical drawing request:
- Email Subject: (The subject line of the email requesting the service from TaperedPlus).
- Post Code of Project Location: (Mostly found in the title block of the drawing attached to emails. Ignore the postcode of any company office address or sender/recipient address and use the post code of the project location only, otherwise state 'Not provided').
- Drawing Reference: (TaperedPlus Reference Number e.g. TP*****_**.** - *. Look for references associated with TaperedPlus specifically. If multiple exist, prioritize the latest one mentioned in the context of the request *to* TaperedPlus).
- Drawing Title (The Project Name, usually the project location).
- Revision (Suffix of the drawing reference e.g. **.** - A. If multiple exist, use the one associated with the Drawing Reference identified above).
- Date Received: (Date the email requesting the service *from TaperedPlus* was sent by the client. In a forwarded email chain, this is the date the email was *sent to TaperedPlus*, NOT the date of the original email further down the chain).
- Hour Received: (Local time the email was sent *to TaperedPlus*. Use 24-hour format, e.g. 14:23).
- Company: (Identify the company *directly requesting* technical drawings or services *from TaperedPlus*. In a forwarded email, this is the company of the person *sending the email to TaperedPlus*, NOT the company of the original sender further down the chain).
- Contact: (Identify the contact person *directly requesting* the job or drawings *from TaperedPlus*. In a forwarded email, this is the person *sending the email to TaperedPlus*, NOT the original sender further down the chain).
- Reason for Change: (%s)
- Surveyor: (Name of the surveyor if provided).
- Target U-Value: (The primary target U-Value requested for the main insulation area).
- Target Min U-Value: (A secondary or minimum target U-Value if specified, often for specific areas like upstands).
- Fall of Tapered: (The required fall or slope for the tapered insulation).
- Tapered Insulation: (The type or brand of tapered insulation product requested).
- Decking: (The type of roof decking material described).`

// insulationMappings folds product names and codes into their category
// headers.
var insulationMappings = map[string][]string{
	"TissueFaced PIR":               {"TT47", "TR27", "Glass Tissue PIR", "Powerdeck F", "Adhered", "MG", "TR/MG", "FR/MG", "BauderPIR FA-TE", "Evatherm A", "Hytherm ADH"},
	"TorchOn PIR":                   {"TT44", "TR24", "Torched", "Powerdeck U", "BGM", "TR/BGM", "FR/BGM", "BauderPIR FA"},
	"FoilFaced PIR":                 {"TT46", "TR26", "Foil", "Powerdeck Eurodeck", "Mech Fixed", "ALU", "TR/ALU", "FR/ALU", "Aluminium Faced"},
	"ROCKWOOL HardRock MultiFix DD": {"Mineral wool", "Hardrock", "stonewool", "stone wool", "rock wool", "bauderrock"},
	"Foamglas T3+":                  {"Cellular Glass", "foamed glass", "Bauderglas"},
	"EPS":                           {"Expanded Polystrene"},
	"XPS":                           {"Extruded Polystyrene"},
}

var (
	leadingAsterisks  = regexp.MustCompile(`^\*+\s*`)
	postCodePrefix    = regexp.MustCompile(`(?i)^\s*of Project Location:?\*?\s*`)
	postCodeMissing   = regexp.MustCompile(`(?i)not\s+provided|not\s+found|none`)
	ukPostcodeArea    = regexp.MustCompile(`([A-Z]{1,2})[0-9]`)
	emailDateHeader   = regexp.MustCompile(`(?is)EMAIL CONTENT:\s*From:.*?\nTo:.*?\nSubject:.*?\nDate:\s*(.+?)\s*\n`)
	receivedDatePart  = regexp.MustCompile(`\d{1,2} \w{3} \d{4}`)
	receivedHourPart  = regexp.MustCompile(`\d{2}:\d{2}`)
)

// paramExtractor runs the parameter and project-name queries against the
// reasoning service.
type paramExtractor struct {
	svc   reasoning.Service
	model string
}

// ExtractParameters queries the reasoning service over the merged text and
// parses its response into a parameter map. enquiryType, when non-empty,
// forces the Reason for Change.
func (p *paramExtractor) ExtractParameters(ctx context.Context, allText, enquiryType string) (map[string]string, error) {
	reasonText := "Either 'Amendment' or 'New Enquiry' depending on the context of the email"
	switch enquiryType {
	case "Amendment", "New Enquiry":
		reasonText = enquiryType
	}

	resp, err := p.query(ctx, allText, fmt.Sprintf(extractionQueryTemplate, reasonText))
	if err != nil {
		return nil, fmt.Errorf("extract parameters: %w", err)
	}

	params := parseParameters(resp)
	overrideReceivedDate(params, allText)

	if enquiryType != "" {
		params["Reason for Change"] = enquiryType
	} else if params["Reason for Change"] == "" || params["Reason for Change"] == "Not found" {
		params["Reason for Change"] = "New Enquiry"
	}

	log.Info("Parameters extracted: %d fields", len(params))
	return params, nil
}

// ExtractProjectName asks the reasoning service for the drawing title, which
// is usually the project location.
func (p *paramExtractor) ExtractProjectName(ctx context.Context, allText string) (string, error) {
	prompt := fmt.Sprintf(
		"Based on the following email content and attachments, extract the project name (drawing title) which is usually the project location.\n"+
			"Return only the project name, nothing else.\n\n%s", allText)

	resp, err := p.query(ctx, prompt, "")
	if err != nil {
		return "", fmt.Errorf("extract project name: %w", err)
	}
	return strings.TrimSpace(resp), nil
}

// query wraps context and question into one prompt. An empty query sends the
// context verbatim.
func (p *paramExtractor) query(ctx context.Context, contextText, query string) (string, error) {
	prompt := contextText
	if query != "" {
		prompt = fmt.Sprintf(
			"Please analyze the following information extracted from emails, PDF documents, and images:\n\n%s\n\n"+
				"QUESTION: %s\n\n"+
				"Note that information may be found in any of the content sources, including text from image descriptions.",
			contextText, query)
	}
	return p.svc.Generate(ctx, p.model, []reasoning.Part{reasoning.TextPart(prompt)})
}

// parseParameters pulls "Key: value" lines out of the response for every
// known parameter, defaulting to "Not found".
func parseParameters(resp string) map[string]string {
	params := make(map[string]string, len(ParameterNames))
	for _, name := range ParameterNames {
		re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(name) + `\s*:?\s*(.*?)(?:\n|$)`)
		val := "Not found"
		if m := re.FindStringSubmatch(resp); m != nil {
			val = strings.TrimSpace(m[1])
		}
		val = leadingAsterisks.ReplaceAllString(val, "")

		switch name {
		case "Tapered Insulation":
			val = mapTaperedInsulationValue(val)
		case "Post Code":
			val = normalizePostCode(val)
		}
		params[name] = val
	}
	return params
}

func mapTaperedInsulationValue(value string) string {
	if value == "" || value == "Not found" {
		return value
	}
	lower := strings.ToLower(value)
	for category, products := range insulationMappings {
		for _, product := range products {
			p := strings.ToLower(product)
			if strings.Contains(lower, p) || strings.Contains(p, lower) {
				return category
			}
		}
	}
	return value
}

// normalizePostCode reduces a UK postcode to its area letters, e.g.
// "SW1A 1AA" to "SW".
func normalizePostCode(value string) string {
	cleaned := strings.TrimSpace(postCodePrefix.ReplaceAllString(value, ""))
	if postCodeMissing.MatchString(cleaned) {
		return "Not provided"
	}
	if m := ukPostcodeArea.FindStringSubmatch(strings.ToUpper(cleaned)); m != nil {
		return m[1]
	}
	return cleaned
}

// overrideReceivedDate replaces the model's Date/Hour Received with values
// parsed from the first email header, which are authoritative when present.
func overrideReceivedDate(params map[string]string, allText string) {
	m := emailDateHeader.FindStringSubmatch(allText)
	if m == nil {
		return
	}
	fullDate := strings.TrimSpace(m[1])
	date := receivedDatePart.FindString(fullDate)
	hour := receivedHourPart.FindString(fullDate)
	if date == "" || hour == "" {
		return
	}
	params["Date Received"] = date
	params["Hour Received"] = hour
}
