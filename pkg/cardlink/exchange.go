package cardlink

import (
	"fmt"

	"github.com/openmobile/omapi/pkg/apdu"
)

// Bounds on the GET RESPONSE continuation drain. Rule blobs and file
// contents are a few KB; a card that keeps announcing more data than
// maxExchangeBytes, or strings along more than maxContinuations
// responses, is misbehaving.
const (
	maxExchangeBytes = 64 * 1024
	maxContinuations = maxExchangeBytes / apdu.MaxShortLe
)

// Exchange performs one command/response exchange over the link,
// transparently handling the 61xx (GET RESPONSE) and 6Cxx (wrong Le)
// continuation families so callers see a single logical response.
// The caller is responsible for serializing access to the link.
//
// Both continuation families are bounded: the wrong-Le retry happens
// at most once, and the GET RESPONSE drain fails with ErrCommunication
// once the accumulated data exceeds maxExchangeBytes. A card that
// answers every command with another continuation cannot wedge the
// caller.
func Exchange(link Link, cmd *apdu.Command) (*apdu.Response, error) {
	resp, err := transmit(link, cmd)
	if err != nil {
		return nil, err
	}

	// Wrong Le: retry once with the length the card asked for.
	if apdu.SWIsWrongLength(resp.SW()) && cmd.ExpectResponse {
		retry := *cmd
		retry.Le = int(resp.SW2)
		if retry.Le == 0 {
			retry.Le = apdu.MaxShortLe
		}
		resp, err = transmit(link, &retry)
		if err != nil {
			return nil, err
		}
	}

	// Response bytes available: drain with GET RESPONSE on the same
	// channel.
	data := resp.Data
	for round := 0; apdu.SWIsResponseAvailable(resp.SW()); round++ {
		if round >= maxContinuations || len(data) > maxExchangeBytes {
			return nil, fmt.Errorf("%w: response exceeded %d bytes or %d continuations without completing",
				ErrCommunication, maxExchangeBytes, maxContinuations)
		}
		le := int(resp.SW2)
		if le == 0 {
			le = apdu.MaxShortLe
		}
		get := &apdu.Command{
			Cla:            cmd.Cla & 0x4F, // keep channel bits only
			Ins:            apdu.InsGetResponse,
			Le:             le,
			ExpectResponse: true,
		}
		resp, err = transmit(link, get)
		if err != nil {
			return nil, err
		}
		data = append(data, resp.Data...)
	}

	return &apdu.Response{Data: data, SW1: resp.SW1, SW2: resp.SW2}, nil
}

func transmit(link Link, cmd *apdu.Command) (*apdu.Response, error) {
	raw, err := cmd.Bytes()
	if err != nil {
		return nil, err
	}
	out, err := link.Transmit(raw)
	if err != nil {
		return nil, err
	}
	resp, err := apdu.ParseResponse(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCommunication, err)
	}
	return resp, nil
}
