//go:generate go run go.uber.org/mock/mockgen -source=sender.go -destination=../mocks/mock_sender.go -package=mocks
package wsconn

// Sender is the outbound half of a connection handle, as seen by the room and
// session registries.
type Sender interface {
	// ID is unique per network connection for the lifetime of the process.
	ID() string
	SendText(text string) error
	SendJSON(v any) error
}
