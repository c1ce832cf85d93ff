package telephony

import (
	"errors"
	"strings"

	"github.com/twilio/twilio-go/twiml"
)

// AckTwiML is the empty acknowledgement returned to status callbacks.
func AckTwiML() string {
	out, err := twiml.Voice(nil)
	if err != nil {
		return emptyResponse
	}
	return out
}

// HangupTwiML ends the call at the vendor.
func HangupTwiML() string {
	out, err := twiml.Voice([]twiml.Element{&twiml.VoiceHangup{}})
	if err != nil {
		return hangupResponse
	}
	return out
}

// BridgeTwiML connects the answered leg to the rep's browser client.
func BridgeTwiML(clientIdentity string, record bool) (string, error) {
	identity := strings.TrimSpace(clientIdentity)
	if identity == "" {
		return "", errors.New("telephony: client identity required for bridge")
	}
	dial := &twiml.VoiceDial{
		AnswerOnBridge: "true",
		InnerElements:  []twiml.Element{&twiml.VoiceClient{Identity: identity}},
	}
	if record {
		dial.Record = "record-from-answer"
	}
	return twiml.Voice([]twiml.Element{dial})
}

const (
	emptyResponse  = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`
	hangupResponse = `<?xml version="1.0" encoding="UTF-8"?><Response><Hangup/></Response>`
)
