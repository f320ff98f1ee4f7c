package rag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssemblePrompt_Sections(t *testing.T) {
	p := AssemblePrompt(
		[]string{"Diabetes is a chronic condition.", "Insulin regulates glucose."},
		"User: hi\nAssistant: hello",
		"What is diabetes?",
	)

	assert.Contains(t, p, "CONTEXT:\nDiabetes is a chronic condition.\n\nInsulin regulates glucose.\n")
	assert.Contains(t, p, "CHAT HISTORY:\nUser: hi\nAssistant: hello\n")
	assert.Contains(t, p, "USER QUESTION:\nWhat is diabetes?\n")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(p), "ANSWER:"))
	assert.NotContains(t, p, "EMERGENCY NOTICE")
	for _, placeholder := range []string{"{context}", "{history}", "{notice}", "{question}"} {
		assert.NotContains(t, p, placeholder)
	}
}

func TestAssemblePrompt_VerbatimSentences(t *testing.T) {
	p := AssemblePrompt(nil, "", "hello")
	for _, s := range []string{RefusalOutOfCorpus, EmergencyRedirect, RefusalNonMedical, Disclaimer} {
		assert.Contains(t, p, s)
	}
	assert.Contains(t, p, "EXACTLY **3 blank lines**")

	// The rules appear in precedence order.
	assert.Less(t, strings.Index(p, RefusalOutOfCorpus), strings.Index(p, "medication dosages"))
	assert.Less(t, strings.Index(p, "medication dosages"), strings.Index(p, EmergencyRedirect))
	assert.Less(t, strings.Index(p, EmergencyRedirect), strings.Index(p, RefusalNonMedical))
}

func TestAssemblePrompt_EmergencyNotice(t *testing.T) {
	p := AssemblePrompt([]string{"Angina is chest discomfort."}, "", "I have sudden chest pain and my left arm hurts")

	notice := strings.Index(p, "EMERGENCY NOTICE:")
	question := strings.Index(p, "USER QUESTION:")
	assert.Positive(t, notice)
	assert.Less(t, notice, question)
	assert.Contains(t, p[notice:question], "chest pain")
	assert.Contains(t, p[notice:question], EmergencyRedirect)
}

func TestAssemblePrompt_QuestionIsNotTemplated(t *testing.T) {
	p := AssemblePrompt([]string{"ctx"}, "", "what does {context} mean?")
	assert.Contains(t, p, "USER QUESTION:\nwhat does {context} mean?")
}

func TestWithDisclaimer(t *testing.T) {
	got := WithDisclaimer("• **Diabetes:** high glucose\n")
	assert.Equal(t, "• **Diabetes:** high glucose\n\n\n\n"+Disclaimer, got)
	assert.Equal(t, "\n\n\n\n", DisclaimerSeparator, "three blank lines")
}

func TestDetectEmergency(t *testing.T) {
	tests := []struct {
		question string
		want     []string
	}{
		{"I have chest pain", []string{"chest pain"}},
		{"My father can't breathe and has CHEST TIGHTNESS", []string{"chest pain", "difficulty breathing"}},
		{"Signs of a stroke? Her face droops", []string{"stroke symptoms"}},
		{"I think I took an overdose", []string{"overdose"}},
		{"I want to kill myself", []string{"suicidal thoughts"}},
		{"What is type 2 diabetes?", nil},
		{"How is blood pressure measured?", nil},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectEmergency(tt.question))
		})
	}
}

func TestTitlePrompt(t *testing.T) {
	p := TitlePrompt("why do my knees hurt when running")
	assert.Contains(t, p, "4-7 word title")
	assert.Contains(t, p, `"why do my knees hurt when running"`)
}
