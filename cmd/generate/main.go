package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"goseq2seq/pkg/decoder"
	"goseq2seq/pkg/nn"
)

func main() {
	vocabSize := flag.Int("vocab-size", 1000, "Output vocabulary size")
	modelDim := flag.Int("model-dim", 64, "Model width")
	embedDim := flag.Int("embed-dim", 64, "Embedding width (adapters are used when it differs from model-dim)")
	numHeads := flag.Int("num-heads", 4, "Attention heads per layer")
	numLayers := flag.Int("num-layers", 2, "Decoder layers")
	contextSize := flag.Int("context-size", 256, "Maximum sequence length")
	promptLen := flag.Int("prompt-len", 4, "Length of the synthetic prompt")
	maxTokens := flag.Int("max-tokens", 16, "Number of symbols to generate")

	flag.Parse()

	fmt.Println(strings.Repeat("=", 50))
	fmt.Println("       Transformer Decoder Generation")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println()
	fmt.Printf("Configuration:\n")
	fmt.Printf("  Vocab Size: %d\n", *vocabSize)
	fmt.Printf("  Model Dim: %d\n", *modelDim)
	fmt.Printf("  Embed Dim: %d\n", *embedDim)
	fmt.Printf("  Num Heads: %d\n", *numHeads)
	fmt.Printf("  Num Layers: %d\n", *numLayers)
	fmt.Printf("  Context Size: %d\n", *contextSize)
	fmt.Println()

	dec, proj, err := buildDecoder(*vocabSize, *modelDim, *embedDim, *numHeads, *numLayers, *contextSize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build decoder: %v\n", err)
		os.Exit(1)
	}
	dec.SetTraining(false)

	fmt.Println("Decoder initialized (random weights).")
	fmt.Println()

	prompt := make([]int, *promptLen)
	for i := range prompt {
		prompt[i] = (i + 1) % *vocabSize
	}

	fmt.Printf("Prompt symbols: %v\n", prompt)
	fmt.Printf("Generating %d symbols with incremental decoding...\n", *maxTokens)

	out, err := decoder.Generate(dec, proj, prompt, *maxTokens, nil, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generation failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Output symbols: %v\n", out)
}

// buildDecoder assembles a decoder-only stack with sinusoidal
// positional encoding and a score projection.
func buildDecoder(vocabSize, modelDim, embedDim, numHeads, numLayers, contextSize int) (*decoder.StandardDecoder, *nn.ScoreProjection, error) {
	embed, err := nn.NewEmbedding(vocabSize, embedDim, nil)
	if err != nil {
		return nil, nil, err
	}

	pos, err := nn.NewSinusoidalPositional(contextSize, embedDim)
	if err != nil {
		return nil, nil, err
	}

	layerCfg := decoder.StandardLayerConfig{
		NumHeads:     numHeads,
		FFNHiddenDim: 4 * modelDim,
		DropoutP:     0.1,
		NormOrder:    decoder.NormPre,
		NormEps:      1e-5,
	}

	layers := make([]decoder.Layer, numLayers)
	for i := range layers {
		layer, err := decoder.NewStandardLayer(modelDim, layerCfg)
		if err != nil {
			return nil, nil, err
		}
		layers[i] = layer
	}

	cfg := decoder.DefaultConfig()
	cfg.NormOrder = decoder.NormPre

	dec, err := decoder.NewStandardDecoder(cfg, embed, pos, layers, nil)
	if err != nil {
		return nil, nil, err
	}

	proj, err := nn.NewScoreProjection(vocabSize, embedDim)
	if err != nil {
		return nil, nil, err
	}

	return dec, proj, nil
}
