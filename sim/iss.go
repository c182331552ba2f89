// iss
package sim

// Iss is the Internal Sub-layer Service contract every stackable layer
// provides to the layer above it: Mac, Aggregator and DistributedRelay
// present this interface; the LinkAgg shim does not (it is a Device
// component only).  Request pushes a frame
// down toward the wire; the provider delivers inbound frames up by calling
// Indication on its registered client.  Stacking is configured at build
// time by pointing one layer's lower ISS at another's object; a nil lower
// ISS disables the port.
type Iss interface {
	Request(fr *Frame)
	SetClient(client IssClient)
	Enabled() bool
}

// IssClient receives M_UNITDATA.indication from the layer below.
type IssClient interface {
	Indication(fr *Frame)
}
