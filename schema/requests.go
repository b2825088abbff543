package schema

// Credentials is optional authentication material for a connect. Password and
// PrivateKey are mutually exclusive; Passphrase only applies to PrivateKey.
type Credentials struct {
	Password   string
	PrivateKey string
	Passphrase string
}

// Empty reports whether no credential material is present.
func (c Credentials) Empty() bool {
	return c.Password == "" && c.PrivateKey == "" && c.Passphrase == ""
}

// ConnectOutcome describes how a connect intent was resolved.
type ConnectOutcome string

const (
	// ConnectOpened indicates a new session and terminal tab were created.
	ConnectOpened ConnectOutcome = "opened"
	// ConnectReused indicates an existing terminal tab for the server was activated.
	ConnectReused ConnectOutcome = "reused"
	// ConnectPending indicates a connect for the server is already in flight.
	ConnectPending ConnectOutcome = "pending"
)

// ConnectRequest asks the deck to open a terminal for a server.
type ConnectRequest struct {
	Server      Server
	Credentials Credentials
}

// ConnectResponse returns the resolution of a connect intent.
type ConnectResponse struct {
	Outcome   ConnectOutcome
	SessionID SessionID
	Tab       TabSnapshot
}

// BackendConnectRequest is the single backend call issued by a connect attempt.
type BackendConnectRequest struct {
	ServerID    ServerID
	Credentials Credentials
}

// BackendConnectResponse carries the backend-assigned session id.
type BackendConnectResponse struct {
	SessionID SessionID
}

// InputResponse is returned by a backend input call. Data is only set by
// transports that echo synchronously.
type InputResponse struct {
	Data []byte
	EOF  bool
}

// ResizeRequest carries new terminal geometry.
type ResizeRequest struct {
	SessionID SessionID
	Cols      int
	Rows      int
}
