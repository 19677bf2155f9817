package handshake

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeAcceptKnownVector(t *testing.T) {
	// RFC6455 §1.3 worked example.
	require.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", ComputeAccept("dGhlIHNhbXBsZSBub25jZQ=="))
}

func TestClientServerHandshakeEndToEnd(t *testing.T) {
	var clientEstablished, serverEstablished bool
	client := NewClientHandshake(func(ok bool) { clientEstablished = ok })
	server := NewServerHandshake(func(ok bool) { serverEstablished = ok })

	req, err := client.BuildRequest("echo.websocket.org", "/", nil)
	require.NoError(t, err)
	require.Equal(t, "websocket", req.Header.Get("Upgrade"))
	require.Equal(t, "Upgrade", req.Header.Get("Connection"))
	require.Equal(t, "13", req.Header.Get("Sec-WebSocket-Version"))
	require.NotEmpty(t, req.Header.Get("Sec-WebSocket-Key"))

	resp, err := server.HandleRequest(req, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	require.True(t, serverEstablished)
	require.Equal(t, StateUpgraded, server.State())

	ok := client.VerifyResponse(resp)
	require.True(t, ok)
	require.True(t, clientEstablished)
	require.Equal(t, StateUpgraded, client.State())
}

func TestServerRejectsNonUpgradeRequest(t *testing.T) {
	var established bool
	server := NewServerHandshake(func(ok bool) { established = ok })

	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	resp, err := server.HandleRequest(req, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.False(t, established)
	require.Equal(t, StateHTTPAwait, server.State())
}

func TestClientRejectsMismatchedAccept(t *testing.T) {
	var established bool
	client := NewClientHandshake(func(ok bool) { established = ok })
	_, err := client.BuildRequest("example.com", "/", nil)
	require.NoError(t, err)

	resp := &http.Response{StatusCode: http.StatusSwitchingProtocols, Header: make(http.Header)}
	resp.Header.Set("Sec-WebSocket-Accept", "not-the-right-value")

	ok := client.VerifyResponse(resp)
	require.False(t, ok)
	require.False(t, established)
}

func TestSubprotocolNegotiation(t *testing.T) {
	client := NewClientHandshake(nil)
	req, err := client.BuildRequest("example.com", "/chat", []string{"v2.chat", "v1.chat"})
	require.NoError(t, err)

	server := NewServerHandshake(nil)
	resp, err := server.HandleRequest(req, func(requested []string) []string {
		for _, r := range requested {
			if r == "v1.chat" {
				return []string{"v1.chat"}
			}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "v1.chat", resp.Header.Get("Sec-WebSocket-Protocol"))
}
