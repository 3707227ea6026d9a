package fedkit

import "errors"

var (
	ErrUnknownField   = errors.New("fedkit: unknown field for the type")
	ErrValueType      = errors.New("fedkit: bad value for the type")
	ErrBadDeclaration = errors.New("fedkit: bad type description")

	ErrConnection       = errors.New("fedkit: runtime connection failed")
	ErrJoinTimeout      = errors.New("fedkit: timed out waiting for federates to join")
	ErrAdvance          = errors.New("fedkit: time advance request refused")
	ErrFederationExists = errors.New("fedkit: federation already exists")
	ErrNotJoined        = errors.New("fedkit: federate is not joined")
)
