package telephony_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/trattoria-labs/centralino/internal/telephony"
)

func TestRestClient_Redirect(t *testing.T) {
	t.Parallel()

	var gotPath, gotTwiml, gotUser string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, _, _ = r.BasicAuth()
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		gotTwiml = r.PostFormValue("Twiml")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := telephony.NewRestClient("AC123", "token", "MG1", telephony.WithRestBaseURL(srv.URL))
	twiml := telephony.DialTwiML("+16155550199", "+16155550100")
	if err := c.Redirect(context.Background(), "CA456", twiml); err != nil {
		t.Fatalf("Redirect: %v", err)
	}

	if gotPath != "/2010-04-01/Accounts/AC123/Calls/CA456.json" {
		t.Errorf("path = %q", gotPath)
	}
	if gotUser != "AC123" {
		t.Errorf("basic auth user = %q", gotUser)
	}
	if gotTwiml != twiml {
		t.Errorf("twiml = %q", gotTwiml)
	}
}

func TestRestClient_SendMessage(t *testing.T) {
	t.Parallel()

	var gotForm map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2010-04-01/Accounts/AC123/Messages.json" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		gotForm = map[string]string{
			"MessagingServiceSid": r.PostFormValue("MessagingServiceSid"),
			"To":                  r.PostFormValue("To"),
			"Body":                r.PostFormValue("Body"),
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := telephony.NewRestClient("AC123", "token", "MG1", telephony.WithRestBaseURL(srv.URL))
	if err := c.SendMessage(context.Background(), "+16155550111", "Your order is confirmed."); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if gotForm["MessagingServiceSid"] != "MG1" {
		t.Errorf("MessagingServiceSid = %q", gotForm["MessagingServiceSid"])
	}
	if gotForm["To"] != "+16155550111" {
		t.Errorf("To = %q", gotForm["To"])
	}
	if gotForm["Body"] != "Your order is confirmed." {
		t.Errorf("Body = %q", gotForm["Body"])
	}
}

func TestRestClient_ErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code": 21211, "message": "Invalid 'To' number"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := telephony.NewRestClient("AC123", "token", "MG1", telephony.WithRestBaseURL(srv.URL))
	err := c.SendMessage(context.Background(), "bogus", "hi")
	if err == nil {
		t.Fatal("expected error for HTTP 400")
	}
}
