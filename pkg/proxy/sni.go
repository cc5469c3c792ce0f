package proxy

import (
	"strings"
	"unicode/utf8"
)

// SNIError is returned by ExtractSNI and ExtractHTTPHost when the input
// cannot be parsed far enough to find a routable hostname. The message
// text matches the reference parser this was transliterated from, since
// callers and tests pin the exact wording.
type SNIError struct {
	msg string
}

func (e *SNIError) Error() string { return e.msg }

func sniErr(msg string) error { return &SNIError{msg: msg} }

// ExtractHTTPHost pulls the Host header out of a plaintext HTTP request
// read off the wire, the way a reverse proxy does before it has decided
// whether the connection is TLS.
func ExtractHTTPHost(request string) (string, error) {
	for _, line := range strings.Split(request, "\r\n") {
		if strings.HasPrefix(line, "Host: ") {
			return strings.TrimSpace(line[len("Host: "):]), nil
		}
	}
	return "", sniErr("No Host header found")
}

// ExtractSNI parses the Server Name Indication out of a raw TLS
// ClientHello record, per RFC 6066 Section 3, without depending on a TLS
// stack to do it: the proxy has to route on SNI before it can terminate
// TLS on a backend's behalf.
func ExtractSNI(clientHello []byte) (string, error) {
	if len(clientHello) < 5 {
		return "", sniErr("ClientHello too short")
	}
	if clientHello[0] != 0x16 {
		return "", sniErr("Not a TLS handshake")
	}
	if len(clientHello) < 6 || clientHello[5] != 0x01 {
		return "", sniErr("Not a ClientHello")
	}

	pos := 43 // 5 (record) + 4 (handshake) + 2 (version) + 32 (random)
	if pos >= len(clientHello) {
		return "", sniErr("Message too short for session ID")
	}

	sessionIDLen := int(clientHello[pos])
	pos += 1 + sessionIDLen

	if pos+2 > len(clientHello) {
		return "", sniErr("Message too short for cipher suites")
	}
	cipherSuitesLen := int(clientHello[pos])<<8 | int(clientHello[pos+1])
	pos += 2 + cipherSuitesLen

	if pos+1 > len(clientHello) {
		return "", sniErr("Message too short for compression methods")
	}
	compressionMethodsLen := int(clientHello[pos])
	pos += 1 + compressionMethodsLen

	if pos+2 > len(clientHello) {
		return "", sniErr("Message too short for extensions")
	}
	extensionsLen := int(clientHello[pos])<<8 | int(clientHello[pos+1])
	pos += 2
	extensionsEnd := pos + extensionsLen

	if extensionsEnd > len(clientHello) {
		return "", sniErr("Message too short for extensions data")
	}

	for pos+4 <= extensionsEnd {
		extensionType := int(clientHello[pos])<<8 | int(clientHello[pos+1])
		extensionLen := int(clientHello[pos+2])<<8 | int(clientHello[pos+3])
		pos += 4

		if extensionType == 0 { // server_name
			if pos+2 > extensionsEnd {
				return "", sniErr("SNI extension truncated")
			}
			sniListLen := int(clientHello[pos])<<8 | int(clientHello[pos+1])
			pos += 2

			if pos+sniListLen > extensionsEnd {
				return "", sniErr("SNI extension data truncated")
			}

			listEnd := pos + sniListLen
			sniPos := pos
			for sniPos+3 <= listEnd {
				nameType := clientHello[sniPos]
				nameLen := int(clientHello[sniPos+1])<<8 | int(clientHello[sniPos+2])
				sniPos += 3

				if sniPos+nameLen > listEnd {
					return "", sniErr("SNI hostname truncated")
				}

				if nameType == 0 { // host_name
					name := clientHello[sniPos : sniPos+nameLen]
					if !utf8.Valid(name) {
						return "", sniErr("Invalid UTF-8 in SNI hostname")
					}
					return string(name), nil
				}
				sniPos += nameLen
			}
		}

		pos += extensionLen
	}

	return "", sniErr("No SNI extension found")
}
