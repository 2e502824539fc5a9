package nooshdaroo

import (
	"github.com/0xinf0/nooshdaroo/config"
	"github.com/0xinf0/nooshdaroo/psi/codec"
	"github.com/0xinf0/nooshdaroo/psi/library"
	"github.com/0xinf0/nooshdaroo/psi/model"
)

// Server is the server-side facade: it owns the loaded protocol library and
// answers lookups for an inbound connection's negotiated cover protocol.
// Unlike Client it holds no shapeshift.Controller of its own - the server
// follows whatever protocol each client picked rather than driving rotation
// itself.
type Server struct {
	cfg     config.NooshdarooConfig
	library *library.Library
}

// NewServer loads cfg.ProtocolDir for server-side protocol lookups.
func NewServer(cfg config.NooshdarooConfig) (*Server, error) {
	lib, err := library.Load(cfg.ProtocolDir)
	if err != nil {
		return nil, err
	}
	return &Server{cfg: cfg, library: lib}, nil
}

// GetProtocol returns the resolved spec for id, e.g. to build the codec an
// accepted connection should use once its cover protocol is known.
func (s *Server) GetProtocol(id string) (*model.ProtocolSpec, error) {
	return s.library.Get(id)
}

// ProtocolIDs lists every protocol this server can speak.
func (s *Server) ProtocolIDs() []string {
	return s.library.IDs()
}

// Wrapper builds the nasc.FrameWrapper the server side of a connection
// should use for protocolID, matching whichever cover protocol the client
// selected (signalled out of band, e.g. by a listener dispatching on
// port/SNI, or by trying each candidate's Unwrap in turn).
func (s *Server) Wrapper(protocolID, role string) (*codec.Codec, error) {
	spec, err := s.library.Get(protocolID)
	if err != nil {
		return nil, err
	}
	return codec.New(spec, role, registryFor(protocolID)), nil
}
