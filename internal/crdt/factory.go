package crdt

// DefaultServerClientID is the replica identity the server uses when it has to
// seed a document from plain text.
const DefaultServerClientID = "inkwell-server"

// Factory builds server-side documents.
type Factory struct {
	clientID string
}

// NewFactory returns a Factory that seeds text as clientID. An empty clientID
// falls back to DefaultServerClientID.
func NewFactory(clientID string) Factory {
	if clientID == "" {
		clientID = DefaultServerClientID
	}
	return Factory{clientID: clientID}
}

// New returns an empty document.
func (f Factory) New() Document {
	return NewTextDocument(f.clientID)
}

// FromText returns a document whose text is seeded from plain content. Seeding
// the same content twice yields identical item identifiers, so two replicas
// seeded independently merge without duplicating the text.
func (f Factory) FromText(content string) (Document, error) {
	document := NewTextDocument(f.clientID)
	if content == "" {
		return document, nil
	}
	if _, err := document.Insert(0, content); err != nil {
		return nil, err
	}
	return document, nil
}
