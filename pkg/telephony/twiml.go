package telephony

import (
	"bytes"
	"encoding/xml"
)

// TwiML document shapes. Only the verbs this service emits are modeled.

type twimlResponse struct {
	XMLName xml.Name      `xml:"Response"`
	Say     string        `xml:"Say,omitempty"`
	Dial    string        `xml:"Dial,omitempty"`
	Connect *twimlConnect `xml:"Connect,omitempty"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL string `xml:"url,attr"`
}

func renderTwiML(doc twimlResponse) string {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Encode(doc)
	return buf.String()
}

// ConnectStreamTwiML answers a call by bridging its audio to the given
// websocket stream URL.
func ConnectStreamTwiML(wsURL string) string {
	return renderTwiML(twimlResponse{
		Connect: &twimlConnect{Stream: twimlStream{URL: wsURL}},
	})
}

// TransferTwiML plays a hold announcement and dials the transfer target.
func TransferTwiML(announcement, phone string) string {
	return renderTwiML(twimlResponse{Say: announcement, Dial: phone})
}
