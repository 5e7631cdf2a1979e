package main

// Blank imports activate the self-registering reasoning backends.
// Add new backends here as they are implemented.

import (
	_ "github.com/chainwright/chainwright/internal/adapter/openai"
	_ "github.com/chainwright/chainwright/internal/adapter/simulated"
)
