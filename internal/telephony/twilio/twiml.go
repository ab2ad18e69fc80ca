package twilio

import (
	"encoding/xml"
	"fmt"
)

// TwiML documents returned to Twilio's webhook and call-update API.

type twimlResponse struct {
	XMLName xml.Name      `xml:"Response"`
	Connect *twimlConnect `xml:"Connect,omitempty"`
	Dial    *twimlDial    `xml:"Dial,omitempty"`
	Reject  *twimlReject  `xml:"Reject,omitempty"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL string `xml:"url,attr"`
}

type twimlDial struct {
	Number string `xml:",chardata"`
}

type twimlReject struct {
	Reason string `xml:"reason,attr,omitempty"`
}

// ConnectStreamTwiML answers an inbound call by bridging its audio to the
// media-stream WebSocket endpoint.
func ConnectStreamTwiML(streamURL string) (string, error) {
	return render(twimlResponse{Connect: &twimlConnect{Stream: twimlStream{URL: streamURL}}})
}

// DialTwiML bridges the call to a phone number; used for transfers.
func DialTwiML(number string) (string, error) {
	return render(twimlResponse{Dial: &twimlDial{Number: number}})
}

// RejectTwiML declines an inbound call. Reason may be "busy" or "rejected".
func RejectTwiML(reason string) (string, error) {
	return render(twimlResponse{Reject: &twimlReject{Reason: reason}})
}

func render(doc twimlResponse) (string, error) {
	body, err := xml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal twiml: %w", err)
	}
	return xml.Header + string(body), nil
}
