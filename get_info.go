// SPDX-FileCopyrightText: (C) 2026 Silicon Key Authors
// SPDX-License-Identifier: Apache 2.0

package ctap2

type getInfoOptions struct {
	Resident     bool  `cbor:"rk"`
	UserPresence bool  `cbor:"up"`
	ClientPIN    *bool `cbor:"clientPin,omitempty"`
}

type getInfoResponse struct {
	Versions           []string       `cbor:"1,keyasint"`
	AAGUID             []byte         `cbor:"3,keyasint"`
	Options            getInfoOptions `cbor:"4,keyasint"`
	PINUvAuthProtocols []uint64       `cbor:"6,keyasint,omitempty"`
	Transports         []string       `cbor:"9,keyasint,omitempty"`
	Algorithms         []credParam    `cbor:"10,keyasint,omitempty"`
}

// getInfo implements authenticatorGetInfo (§4.G): a read-only summary of
// this device instance's capabilities and current PIN state.
func (a *Authenticator) getInfo() (*getInfoResponse, error) {
	resp := &getInfoResponse{
		Versions: []string{"FIDO_2_0"},
		AAGUID:   append([]byte(nil), a.Config.AAGUID[:]...),
		Options: getInfoOptions{
			// Resident-key creation is a fixed device capability, independent
			// of Config.DefaultToRK (which only governs MakeCredential's
			// storage choice when the platform doesn't set rk itself).
			Resident:     true,
			UserPresence: a.Presence != nil,
		},
		PINUvAuthProtocols: []uint64{1},
		Transports:         a.Config.Transports,
	}

	if a.PIN != nil {
		hash, err := a.Store.PIN()
		if err != nil {
			return nil, NewError(ErrOther, err)
		}
		set := hash != nil
		resp.Options.ClientPIN = &set
	}

	algs := a.Config.SupportedAlgorithms
	if len(algs) == 0 {
		algs = a.Registry.Algorithms()
	}
	for _, alg := range algs {
		resp.Algorithms = append(resp.Algorithms, credParam{Type: "public-key", Alg: alg})
	}
	return resp, nil
}
