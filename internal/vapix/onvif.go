package vapix

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // WS-Security UsernameToken digest is defined over SHA-1
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/camstage/internal/device"
	"github.com/muurk/camstage/internal/logging"
)

const (
	onvifDevicePath = "/onvif/device_service"
	soapContentType = "application/soap+xml; charset=utf-8"
)

const soapEnvelope = `<?xml version="1.0" encoding="UTF-8"?>
<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope" xmlns:tds="http://www.onvif.org/ver10/device/wsdl" xmlns:tt="http://www.onvif.org/ver10/schema">
<s:Header>%s</s:Header>
<s:Body>%s</s:Body>
</s:Envelope>`

const securityHeader = `<Security s:mustUnderstand="1" xmlns="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd">
<UsernameToken>
<Username>%s</Username>
<Password Type="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-username-token-profile-1.0#PasswordDigest">%s</Password>
<Nonce EncodingType="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-soap-message-security-1.0#Base64Binary">%s</Nonce>
<Created xmlns="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd">%s</Created>
</UsernameToken>
</Security>`

// CreateIntegrationUserONVIF creates the integration user through the ONVIF
// device service. An existing user gets its password updated instead.
func (c *Client) CreateIntegrationUserONVIF(ctx context.Context, target device.Target, admin device.Credentials, username, password string) device.Result {
	body := fmt.Sprintf(`<tds:CreateUsers><tds:User><tt:Username>%s</tt:Username><tt:Password>%s</tt:Password><tt:UserLevel>Administrator</tt:UserLevel></tds:User></tds:CreateUsers>`,
		xmlEscape(username), xmlEscape(password))

	fault, res := c.soapCall(ctx, target, admin, body, "create ONVIF user")
	if res.Success {
		return device.OK("ONVIF user %s created", username)
	}
	if fault == nil || !fault.usernameClash() {
		return res
	}

	logging.Info("ONVIF user already exists, updating password",
		zap.String("device", target.ID()),
		zap.String("username", username),
	)
	body = fmt.Sprintf(`<tds:SetUser><tds:User><tt:Username>%s</tt:Username><tt:Password>%s</tt:Password><tt:UserLevel>Administrator</tt:UserLevel></tds:User></tds:SetUser>`,
		xmlEscape(username), xmlEscape(password))
	if _, res := c.soapCall(ctx, target, admin, body, "update ONVIF user"); !res.Success {
		return device.OK("ONVIF user %s already exists, password not updated: %s", username, res.Message)
	}
	return device.OK("ONVIF user %s already exists, password updated", username)
}

// soapFault holds the parts of a SOAP 1.2 fault that matter here.
type soapFault struct {
	Codes  []string
	Reason string
}

func (f *soapFault) usernameClash() bool {
	for _, code := range f.Codes {
		if strings.HasSuffix(code, "UsernameClash") {
			return true
		}
	}
	return strings.Contains(strings.ToLower(f.Reason), "already exist")
}

func (f *soapFault) String() string {
	if f.Reason != "" {
		return f.Reason
	}
	return strings.Join(f.Codes, "/")
}

func (c *Client) soapCall(ctx context.Context, target device.Target, admin device.Credentials, body, what string) (*soapFault, device.Result) {
	header, err := usernameToken(admin, time.Now())
	if err != nil {
		return nil, device.Failed("%s: %v", what, err)
	}
	envelope := fmt.Sprintf(soapEnvelope, header, body)

	resp, err := c.do(ctx, target.Address, request{
		method:      http.MethodPost,
		path:        onvifDevicePath,
		body:        []byte(envelope),
		contentType: soapContentType,
		creds:       &admin,
	})
	if err != nil {
		return nil, device.ResultFromError(err, "")
	}

	fault := parseFault(resp.body)
	if resp.status == http.StatusOK && fault == nil {
		return nil, device.OK("%s", what)
	}
	if fault != nil {
		if fault.isAuth() {
			return fault, device.ResultFromError(device.NewAuthError(what+": "+fault.String()), "")
		}
		return fault, device.Failed("%s: %s", what, fault)
	}
	return nil, device.ResultFromError(statusError(resp, what), "")
}

func (f *soapFault) isAuth() bool {
	for _, code := range f.Codes {
		if strings.HasSuffix(code, "NotAuthorized") || strings.HasSuffix(code, "FailedAuthentication") {
			return true
		}
	}
	return false
}

// usernameToken builds a WS-Security header with a PasswordDigest of
// base64(sha1(nonce + created + password)).
func usernameToken(creds device.Credentials, now time.Time) (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	created := now.UTC().Format("2006-01-02T15:04:05.000Z")
	return fmt.Sprintf(securityHeader,
		xmlEscape(creds.Username),
		passwordDigest(nonce, created, creds.Password),
		base64.StdEncoding.EncodeToString(nonce),
		created,
	), nil
}

func passwordDigest(nonce []byte, created, password string) string {
	h := sha1.New() //nolint:gosec
	h.Write(nonce)
	h.Write([]byte(created))
	h.Write([]byte(password))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// parseFault walks the response by local element name, so namespace
// prefixes chosen by the firmware do not matter. It returns nil when the
// body holds no Fault element.
func parseFault(body []byte) *soapFault {
	dec := xml.NewDecoder(bytes.NewReader(body))
	var (
		fault   *soapFault
		inValue bool
		inText  bool
	)
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "Fault":
				fault = &soapFault{}
			case "Value":
				inValue = fault != nil
			case "Text":
				inText = fault != nil
			}
		case xml.EndElement:
			inValue, inText = false, false
		case xml.CharData:
			text := strings.TrimSpace(string(t))
			switch {
			case text == "":
			case inValue:
				fault.Codes = append(fault.Codes, text)
			case inText && fault.Reason == "":
				fault.Reason = text
			}
		}
	}
	return fault
}

func xmlEscape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
