package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/twilio/twilio-go/client"
	"github.com/twilio/twilio-go/twiml"

	"github.com/sli-cka/vikunja-voice-assistant/services/ingress/internal/publisher"
	"github.com/sli-cka/vikunja-voice-assistant/shared/idempotency"
	"github.com/sli-cka/vikunja-voice-assistant/shared/logging"
)

const (
	SMSPath   = "/webhooks/sms"
	VoicePath = "/webhooks/voice"
)

// Publisher defines the interface for message publishing
type Publisher interface {
	PublishIntent(ctx context.Context, msg *publisher.IntentMessage) error
}

// voicePrompts are spoken on a call before and after the utterance
type voicePrompts struct {
	locale string
	ask    string
	ack    string
}

var prompts = map[string]voicePrompts{
	"en": {locale: "en-US", ask: "What task should I add?", ack: "Got it. I'll text you once it's in Vikunja."},
	"de": {locale: "de-DE", ask: "Welche Aufgabe soll ich hinzufügen?", ack: "Verstanden. Ich schicke dir eine Nachricht, sobald sie in Vikunja ist."},
	"fr": {locale: "fr-FR", ask: "Quelle tâche dois-je ajouter ?", ack: "C'est noté. Je vous envoie un message dès qu'elle est dans Vikunja."},
	"es": {locale: "es-ES", ask: "¿Qué tarea debo añadir?", ack: "Entendido. Te enviaré un mensaje cuando esté en Vikunja."},
}

// WebhookHandler handles Twilio SMS and voice webhooks
type WebhookHandler struct {
	pub             Publisher
	logger          *logging.Logger
	twilioAuthToken string
	language        string
	webhookURLs     map[string]string
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(pub Publisher, logger *logging.Logger, twilioAuthToken, language string) *WebhookHandler {
	if _, ok := prompts[language]; !ok {
		language = "en"
	}
	return &WebhookHandler{
		pub:             pub,
		logger:          logger,
		twilioAuthToken: twilioAuthToken,
		language:        language,
		webhookURLs:     make(map[string]string),
	}
}

// SetWebhookURL sets the URL used for signature validation of requests to path
func (h *WebhookHandler) SetWebhookURL(path, url string) {
	h.webhookURLs[path] = url
}

// HandleSMS handles incoming SMS webhooks from Twilio; the body is the utterance
func (h *WebhookHandler) HandleSMS(w http.ResponseWriter, r *http.Request) {
	if !h.accept(w, r) {
		return
	}

	from := r.FormValue("From")
	body := strings.TrimSpace(r.FormValue("Body"))
	messageSid := r.FormValue("MessageSid")

	if from == "" || messageSid == "" {
		h.logger.Error("Missing required fields: From=%s, MessageSid=%s", from, messageSid)
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}
	if body == "" {
		h.logger.Error("Empty message from %s (sid: %s)", from, messageSid)
		http.Error(w, "Empty message", http.StatusBadRequest)
		return
	}

	if err := h.publish(r.Context(), from, body, messageSid); err != nil {
		h.logger.Error("Failed to publish intent: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.logger.Info("Published SMS utterance from %s (sid: %s)", from, messageSid)

	// Return empty TwiML response
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "<?xml version=\"1.0\" encoding=\"UTF-8\"?><Response></Response>")
}

// HandleVoice drives a call: without a SpeechResult it asks for the task,
// with one it publishes the transcribed utterance and hangs up
func (h *WebhookHandler) HandleVoice(w http.ResponseWriter, r *http.Request) {
	if !h.accept(w, r) {
		return
	}

	from := r.FormValue("From")
	callSid := r.FormValue("CallSid")
	speech := strings.TrimSpace(r.FormValue("SpeechResult"))

	if from == "" || callSid == "" {
		h.logger.Error("Missing required fields: From=%s, CallSid=%s", from, callSid)
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	p := prompts[h.language]
	var verbs []twiml.Element

	if speech == "" {
		verbs = []twiml.Element{
			&twiml.VoiceGather{
				Input:    "speech",
				Action:   VoicePath,
				Method:   http.MethodPost,
				Language: p.locale,
				InnerElements: []twiml.Element{
					&twiml.VoiceSay{Message: p.ask, Language: p.locale},
				},
			},
		}
	} else {
		if err := h.publish(r.Context(), from, speech, callSid); err != nil {
			h.logger.Error("Failed to publish intent: %v", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		h.logger.Info("Published spoken utterance from %s (call: %s)", from, callSid)

		verbs = []twiml.Element{
			&twiml.VoiceSay{Message: p.ack, Language: p.locale},
			&twiml.VoiceHangup{},
		}
	}

	doc, err := twiml.Voice(verbs)
	if err != nil {
		h.logger.Error("Failed to render TwiML: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, doc)
}

// accept checks method, form and signature, writing the error response itself
func (h *WebhookHandler) accept(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}

	if err := r.ParseForm(); err != nil {
		h.logger.Error("Failed to parse form: %v", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return false
	}

	// Validate Twilio signature if auth token is configured
	if h.twilioAuthToken != "" && !h.validateSignature(r) {
		h.logger.Error("Invalid Twilio signature for %s", r.URL.Path)
		http.Error(w, "Invalid signature", http.StatusForbidden)
		return false
	}
	return true
}

func (h *WebhookHandler) publish(ctx context.Context, from, utterance, sid string) error {
	msg := &publisher.IntentMessage{
		UserID:         from,
		Utterance:      utterance,
		MessageSid:     sid,
		IdempotencyKey: idempotency.GenerateKey(sid),
		Language:       h.language,
	}
	return h.pub.PublishIntent(ctx, msg)
}

func (h *WebhookHandler) validateSignature(r *http.Request) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" {
		return false
	}

	// Build the URL for validation
	url := h.webhookURLs[r.URL.Path]
	if url == "" {
		// Fallback: construct URL from request
		scheme := "https"
		if r.TLS == nil {
			scheme = "http"
		}
		url = fmt.Sprintf("%s://%s%s", scheme, r.Host, r.URL.Path)
	}

	// Use Twilio's request validator
	validator := client.NewRequestValidator(h.twilioAuthToken)

	// Convert form values to map
	params := make(map[string]string)
	for key, values := range r.PostForm {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}

	return validator.Validate(url, params, signature)
}

// HandleHealth handles health check requests
func (h *WebhookHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"healthy"}`)
}
