package rag

import (
	"fmt"
	"regexp"
	"strings"
)

// PromptTemplateVersion changes whenever PromptTemplate changes.
const PromptTemplateVersion = "medibot-prompt/3"

// Fixed sentences the model is instructed to reproduce verbatim.
const (
	RefusalOutOfCorpus = "I'm sorry, my knowledge base does not contain that information. Please consult a healthcare professional for accurate guidance."
	EmergencyRedirect  = "⚠️ This sounds serious. Please contact emergency services immediately or visit the nearest emergency room."
	RefusalNonMedical  = "I cannot answer non-medical questions. My purpose is to provide medical information only."

	Disclaimer = "---\n**Disclaimer:** I am an AI assistant, not a medical professional. This information is for educational purposes only and should not replace consultation with a qualified healthcare provider."

	// DisclaimerSeparator is the three blank lines between answer and disclaimer.
	DisclaimerSeparator = "\n\n\n\n"
)

// PromptTemplate is the instruction template. Placeholders: {context},
// {history}, {notice} and {question}.
const PromptTemplate = `You are a professional medical information assistant named MediBot.

-----------------------------------------
STRICT ANSWER FORMAT (MANDATORY)
-----------------------------------------
• ALWAYS answer using clean bullet points (•)
• ALWAYS use numbered lists (1., 2., 3.) for steps or sequences
• ALWAYS use bold headings like this: **Heading:**
• ALWAYS explain medical content in crisp, clear, structured points
• ALWAYS bold medical terms (e.g., **hypertension**, **glucose**, **insulin**)
• NEVER write long paragraphs — break everything into bullet points
• ALWAYS keep tone: professional, calm, medical, clear
• ALWAYS end the answer, then add EXACTLY 3 blank lines, then the disclaimer

-----------------------------------------
RULES OF CONTENT (apply the FIRST rule that matches)
-----------------------------------------
1. If the context does not contain the answer, reply ONLY:
   "` + RefusalOutOfCorpus + `"
2. NEVER provide, even if the context contains them:
   • diagnosis
   • treatments
   • prescriptions
   • medication dosages
3. If the user describes emergency symptoms (e.g., chest pain, stroke symptoms):
   RESPOND ONLY:
   "` + EmergencyRedirect + `"
4. If the user asks a non-medical question, respond ONLY:
   "` + RefusalNonMedical + `"
5. Otherwise answer strictly from the provided context chunks. NEVER add content
   that is not in the context.

-----------------------------------------
DISCLAIMER (MANDATORY)
-----------------------------------------
At the end of EVERY answer:
• Add EXACTLY **3 blank lines**
• Then add:

` + Disclaimer + `

-----------------------------------------

CONTEXT:
{context}

CHAT HISTORY:
{history}
{notice}
USER QUESTION:
{question}

ANSWER:
`

// AssemblePrompt fills PromptTemplate. Context chunks are separated by a blank
// line. When the question matches emergency keywords an explicit notice
// directing rule 3 is inserted before the question.
func AssemblePrompt(contextChunks []string, history, question string) string {
	notice := ""
	if hits := DetectEmergency(question); len(hits) > 0 {
		notice = fmt.Sprintf("\nEMERGENCY NOTICE:\nThe user question mentions possible emergency symptoms (%s).\nApply rule 3: RESPOND ONLY with \"%s\" followed by the disclaimer.\n",
			strings.Join(hits, ", "), EmergencyRedirect)
	}

	r := strings.NewReplacer(
		"{context}", strings.Join(contextChunks, "\n\n"),
		"{history}", history,
		"{notice}", notice,
		"{question}", question,
	)
	return r.Replace(PromptTemplate)
}

// WithDisclaimer appends the disclaimer to an answer body the way the model
// is instructed to.
func WithDisclaimer(answer string) string {
	return strings.TrimRight(answer, "\n") + DisclaimerSeparator + Disclaimer
}

// TitlePrompt asks the model for a short title of a conversation's first question.
func TitlePrompt(firstQuestion string) string {
	return fmt.Sprintf("Summarize the medical query into a 4-7 word title.\nDo NOT invent diagnosis — only rewrite what user said.\nRespond only with the title text.\n\nQuery: %q", firstQuestion)
}

var emergencyPatterns = []struct {
	label string
	re    *regexp.Regexp
}{
	{"chest pain", regexp.MustCompile(`\bchest\s+(pain|pressure|tightness)\b`)},
	{"difficulty breathing", regexp.MustCompile(`\b(can'?t|cannot|difficulty|trouble|unable to)\s+breath(e|ing)?\b|\bshortness of breath\b`)},
	{"stroke symptoms", regexp.MustCompile(`\bstroke\b|\bface\s+droop|\bslurred\s+speech\b`)},
	{"heart attack", regexp.MustCompile(`\bheart\s+attack\b|\bcardiac\s+arrest\b`)},
	{"unconsciousness", regexp.MustCompile(`\b(unconscious|passed out|fainted|unresponsive)\b`)},
	{"seizure", regexp.MustCompile(`\bseizures?\b|\bconvuls`)},
	{"severe bleeding", regexp.MustCompile(`\b(severe|heavy|uncontrolled)\s+bleeding\b|\bbleeding\s+(heavily|a lot)\b`)},
	{"anaphylaxis", regexp.MustCompile(`\banaphyla|\bthroat\s+(is\s+)?(closing|swelling)\b`)},
	{"overdose", regexp.MustCompile(`\boverdos(e|ed|ing)\b`)},
	{"suicidal thoughts", regexp.MustCompile(`\bsuicid|\bkill\s+myself\b|\bend\s+my\s+life\b`)},
}

// DetectEmergency returns the emergency symptom labels matched in question,
// in a fixed order.
func DetectEmergency(question string) []string {
	q := strings.ToLower(question)
	var hits []string
	for _, p := range emergencyPatterns {
		if p.re.MatchString(q) {
			hits = append(hits, p.label)
		}
	}
	return hits
}
