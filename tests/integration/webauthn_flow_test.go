package integration

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/descope/virtualwebauthn"
)

// virtualDevice bundles a virtual authenticator with one of its credentials
// so tests can run complete ceremonies against the HTTP API.
type virtualDevice struct {
	rp            virtualwebauthn.RelyingParty
	authenticator virtualwebauthn.Authenticator
	credential    virtualwebauthn.Credential
}

func newVirtualDevice(h *TestHarness, userID string) *virtualDevice {
	return &virtualDevice{
		rp: virtualwebauthn.RelyingParty{
			Name:   h.Config.Server.RPName,
			ID:     h.Config.Server.RPID,
			Origin: h.Config.Server.RPOrigin,
		},
		authenticator: virtualwebauthn.NewAuthenticatorWithOptions(virtualwebauthn.AuthenticatorOptions{
			UserHandle: []byte(userID),
		}),
		credential: virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2),
	}
}

// ceremonyOptions extracts the publicKey options from a begin response body.
func ceremonyOptions(t *testing.T, body []byte) string {
	t.Helper()
	var wrapper struct {
		PublicKey json.RawMessage `json:"publicKey"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil || len(wrapper.PublicKey) == 0 {
		t.Fatalf("Begin response missing publicKey options: %s", string(body))
	}
	return string(wrapper.PublicKey)
}

// register runs a full registration ceremony over HTTP and returns the
// registered credential ID.
func (d *virtualDevice) register(h *TestHarness, userID, displayName string) string {
	h.T.Helper()

	beginResp := h.POST("/webauthn/register/begin", map[string]interface{}{"user_id": userID})
	beginResp.Status(http.StatusOK)

	parsed, err := virtualwebauthn.ParseAttestationOptions(ceremonyOptions(h.T, beginResp.Body()))
	if err != nil {
		h.T.Fatalf("Failed to parse attestation options: %v", err)
	}

	attestation := virtualwebauthn.CreateAttestationResponse(d.rp, d.authenticator, d.credential, *parsed)

	finishResp := h.POST("/webauthn/register/finish", map[string]interface{}{
		"user_id":      userID,
		"response":     json.RawMessage(attestation),
		"display_name": displayName,
	})
	finishResp.Status(http.StatusOK)

	var result struct {
		CredentialID string `json:"credential_id"`
	}
	finishResp.JSON(&result)
	if result.CredentialID == "" {
		h.T.Fatal("Missing credential_id in finish response")
	}

	d.authenticator.AddCredential(d.credential)
	return result.CredentialID
}

// assert runs a full authentication ceremony over HTTP. The authenticator's
// signature counter is advanced first, matching real device behavior.
func (d *virtualDevice) assert(h *TestHarness) *Response {
	h.T.Helper()
	d.credential.Counter++
	return d.assertWithStaleCounter(h)
}

// assertWithStaleCounter runs an authentication ceremony without advancing
// the signature counter.
func (d *virtualDevice) assertWithStaleCounter(h *TestHarness) *Response {
	h.T.Helper()

	beginResp := h.POST("/webauthn/login/begin", nil)
	beginResp.Status(http.StatusOK)

	parsed, err := virtualwebauthn.ParseAssertionOptions(ceremonyOptions(h.T, beginResp.Body()))
	if err != nil {
		h.T.Fatalf("Failed to parse assertion options: %v", err)
	}

	assertion := virtualwebauthn.CreateAssertionResponse(d.rp, d.authenticator, d.credential, *parsed)

	return h.POST("/webauthn/login/finish", map[string]interface{}{
		"response": json.RawMessage(assertion),
	})
}

type loginResult struct {
	UserID       string `json:"user_id"`
	CredentialID string `json:"credential_id"`
	SessionToken string `json:"session_token"`
}

func TestFullRegistrationAndLoginFlow(t *testing.T) {
	h := NewTestHarness(t)
	device := newVirtualDevice(h, "alice")

	credentialID := device.register(h, "alice", "YubiKey 5C")

	loginResp := device.assert(h)
	loginResp.Status(http.StatusOK)

	var result loginResult
	loginResp.JSON(&result)

	if result.UserID != "alice" {
		t.Errorf("Expected user alice, got %q", result.UserID)
	}
	if result.CredentialID != credentialID {
		t.Errorf("Credential mismatch: registered %q, asserted %q", credentialID, result.CredentialID)
	}
	if result.SessionToken == "" {
		t.Error("Missing session token")
	}

	// The session token authorizes credential management
	listResp := h.WithAuth(result.SessionToken).GET("/users/alice/credentials")
	listResp.Status(http.StatusOK)
	listResp.BodyContains(credentialID)
	listResp.BodyContains("YubiKey 5C")
}

func TestRepeatedLoginsAdvanceCounter(t *testing.T) {
	h := NewTestHarness(t)
	device := newVirtualDevice(h, "bob")
	device.register(h, "bob", "")

	for i := 0; i < 3; i++ {
		device.assert(h).Status(http.StatusOK)
	}
}

func TestAssertionWithStaleCounterRejected(t *testing.T) {
	h := NewTestHarness(t)
	device := newVirtualDevice(h, "carol")
	device.register(h, "carol", "")

	// First login advances the stored counter to 1
	device.assert(h).Status(http.StatusOK)

	// A cryptographically valid assertion carrying the same counter value
	// indicates a cloned authenticator or a replayed signature
	device.assertWithStaleCounter(h).Status(http.StatusConflict)

	// The credential itself stays usable once the counter advances again
	device.assert(h).Status(http.StatusOK)
}

func TestDuplicateCredentialRejected(t *testing.T) {
	h := NewTestHarness(t)
	device := newVirtualDevice(h, "dave")
	device.register(h, "dave", "")

	// Replaying the same authenticator credential through a second
	// registration ceremony, even for a different user, must fail
	beginResp := h.POST("/webauthn/register/begin", map[string]interface{}{"user_id": "eve"})
	beginResp.Status(http.StatusOK)

	parsed, err := virtualwebauthn.ParseAttestationOptions(ceremonyOptions(t, beginResp.Body()))
	if err != nil {
		t.Fatalf("Failed to parse attestation options: %v", err)
	}

	attestation := virtualwebauthn.CreateAttestationResponse(device.rp, device.authenticator, device.credential, *parsed)

	h.POST("/webauthn/register/finish", map[string]interface{}{
		"user_id":  "eve",
		"response": json.RawMessage(attestation),
	}).Status(http.StatusConflict)
}

func TestLoginWithoutChallengeFails(t *testing.T) {
	h := NewTestHarness(t)
	device := newVirtualDevice(h, "frank")
	device.register(h, "frank", "")

	// A successful login burns its challenge
	device.credential.Counter++
	beginResp := h.POST("/webauthn/login/begin", nil)
	beginResp.Status(http.StatusOK)

	parsed, err := virtualwebauthn.ParseAssertionOptions(ceremonyOptions(t, beginResp.Body()))
	if err != nil {
		t.Fatalf("Failed to parse assertion options: %v", err)
	}
	assertion := virtualwebauthn.CreateAssertionResponse(device.rp, device.authenticator, device.credential, *parsed)

	h.POST("/webauthn/login/finish", map[string]interface{}{
		"response": json.RawMessage(assertion),
	}).Status(http.StatusOK)

	// Submitting the identical response again finds no live challenge
	h.POST("/webauthn/login/finish", map[string]interface{}{
		"response": json.RawMessage(assertion),
	}).Status(http.StatusNotFound)
}

func TestLoginWithUnknownCredential(t *testing.T) {
	h := NewTestHarness(t)

	// A device never registered with this server
	device := newVirtualDevice(h, "ghost")
	device.authenticator.AddCredential(device.credential)

	device.assert(h).Status(http.StatusNotFound)
}

func TestFinishRegistrationWithGarbageResponse(t *testing.T) {
	h := NewTestHarness(t)

	h.POST("/webauthn/register/begin", map[string]interface{}{"user_id": "mallory"}).Status(http.StatusOK)

	h.POST("/webauthn/register/finish", map[string]interface{}{
		"user_id":  "mallory",
		"response": json.RawMessage(`{"id":"bogus"}`),
	}).Status(http.StatusBadRequest)
}
