package protocol

import "github.com/invopop/jsonschema"

// Schemas describes every message of the protocol, keyed by direction.
func Schemas() map[string]*jsonschema.Schema {
	reflector := jsonschema.Reflector{DoNotReference: true}
	return map[string]*jsonschema.Schema{
		"client":     reflector.Reflect(ClientEvent{}),
		"server":     reflector.Reflect(ServerEvent{}),
		"audioFrame": reflector.Reflect(AudioFrame{}),
	}
}
