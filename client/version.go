package client

// LibraryName identifies this library in the User-Agent header.
const LibraryName = "campfire-go"

// Version is set by build flags during compilation.
// Example: go build -ldflags "-X github.com/dan-strohschein/campfire-go/client.Version=$(git describe --tags --always --dirty)"
var Version = "dev"
