package proxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractHTTPHost(t *testing.T) {
	req := "GET / HTTP/1.1\r\nHost: api.example.formation:80\r\nUser-Agent: test\r\n\r\n"
	host, err := ExtractHTTPHost(req)
	require.NoError(t, err)
	assert.Equal(t, "api.example.formation:80", host)
}

func TestExtractHTTPHostMissing(t *testing.T) {
	_, err := ExtractHTTPHost("GET / HTTP/1.1\r\nUser-Agent: test\r\n\r\n")
	require.Error(t, err)
	assert.Equal(t, "No Host header found", err.Error())
}

func buildClientHello(t *testing.T, sni string) []byte {
	t.Helper()

	var ext []byte
	// server_name extension body: list length(2) + [type(1) + len(2) + name]
	name := []byte(sni)
	listBody := append([]byte{0x00, byte(len(name) >> 8), byte(len(name))}, name...)
	list := append([]byte{byte(len(listBody) >> 8), byte(len(listBody))}, listBody...)
	ext = append(ext, 0x00, 0x00) // extension type 0 = server_name
	ext = append(ext, byte(len(list)>>8), byte(len(list)))
	ext = append(ext, list...)

	extensionsLen := len(ext)

	body := []byte{}
	body = append(body, 0x03, 0x03)          // client version
	body = append(body, make([]byte, 32)...) // random
	body = append(body, 0x00)                // session ID length 0
	body = append(body, 0x00, 0x02, 0x00, 0x2f) // cipher suites length 2 + one suite
	body = append(body, 0x01, 0x00)          // compression methods: length 1, null
	body = append(body, byte(extensionsLen>>8), byte(extensionsLen))
	body = append(body, ext...)

	handshake := append([]byte{0x01, byte(len(body) >> 16), byte(len(body) >> 8), byte(len(body))}, body...)
	record := append([]byte{0x16, 0x03, 0x03, byte(len(handshake) >> 8), byte(len(handshake))}, handshake...)
	return record
}

func TestExtractSNIRoundTrip(t *testing.T) {
	hello := buildClientHello(t, "api.example.formation")
	sni, err := ExtractSNI(hello)
	require.NoError(t, err)
	assert.Equal(t, "api.example.formation", sni)
}

func TestExtractSNITooShort(t *testing.T) {
	_, err := ExtractSNI([]byte{0x16, 0x03})
	require.Error(t, err)
	assert.Equal(t, "ClientHello too short", err.Error())
}

func TestExtractSNINotAHandshake(t *testing.T) {
	_, err := ExtractSNI([]byte{0x17, 0x03, 0x03, 0x00, 0x05, 0x00})
	require.Error(t, err)
	assert.Equal(t, "Not a TLS handshake", err.Error())
}

func TestExtractSNINotAClientHello(t *testing.T) {
	_, err := ExtractSNI([]byte{0x16, 0x03, 0x03, 0x00, 0x01, 0x02})
	require.Error(t, err)
	assert.Equal(t, "Not a ClientHello", err.Error())
}

func TestExtractSNINoExtension(t *testing.T) {
	body := []byte{}
	body = append(body, 0x03, 0x03)
	body = append(body, make([]byte, 32)...)
	body = append(body, 0x00)
	body = append(body, 0x00, 0x00)
	body = append(body, 0x01, 0x00)
	body = append(body, 0x00, 0x00) // no extensions

	handshake := append([]byte{0x01, byte(len(body) >> 16), byte(len(body) >> 8), byte(len(body))}, body...)
	record := append([]byte{0x16, 0x03, 0x03, byte(len(handshake) >> 8), byte(len(handshake))}, handshake...)

	_, err := ExtractSNI(record)
	require.Error(t, err)
	assert.Equal(t, "No SNI extension found", err.Error())
}
