package cmd

import (
	_ "tunnel-keeper/cmd/lifecycle"
	_ "tunnel-keeper/cmd/root"
	_ "tunnel-keeper/cmd/server"
	_ "tunnel-keeper/cmd/tunnel"
)
