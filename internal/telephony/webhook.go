package telephony

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
)

// IncomingCallHandler answers Twilio's incoming-call webhook with TwiML that
// connects the call to the media-stream WebSocket.
//
// publicHost, when non-empty, overrides the request's Host header as the
// WebSocket host; set it when the server sits behind a proxy whose external
// name differs from the listener's.
func IncomingCallHandler(publicHost string, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := r.URL.Query().Get("From")
		if caller == "" {
			// Twilio may POST the parameters as a form instead.
			caller = r.PostFormValue("From")
		}
		logger.Info("incoming call", "caller", caller)

		host := publicHost
		if host == "" {
			host = r.Host
		}

		w.Header().Set("Content-Type", "text/xml")
		fmt.Fprint(w, ConnectStreamTwiML(host, caller))
	})
}

// ConnectStreamTwiML renders the answer document for a new call: a short
// pause, then a bidirectional stream to /media-stream carrying the caller
// number as a custom parameter.
func ConnectStreamTwiML(host, caller string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Response>
    <Pause length="1"/>
    <Connect>
        <Stream url="wss://%s/media-stream">
            <Parameter name="caller" value="%s"/>
        </Stream>
    </Connect>
</Response>`, xmlEscape(host), xmlEscape(caller))
}

// DialTwiML renders the redirect document that hands the call to another
// number, shown to the callee as coming from callerID.
func DialTwiML(callerID, number string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Response>
    <Dial callerId="%s">%s</Dial>
</Response>`, xmlEscape(callerID), xmlEscape(number))
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
