package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	api "k8s.io/examples/AI/graphexec/api/v1alpha1"
	"k8s.io/examples/AI/graphexec/pkg/blobs"
	"k8s.io/examples/AI/graphexec/pkg/catalog"
	"k8s.io/examples/AI/graphexec/pkg/tensor"
	"k8s.io/examples/AI/graphexec/pkg/weights"
	"k8s.io/klog/v2"
)

func main() {
	ctx := context.Background()
	err := run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	serverAddr := "127.0.0.1:9876"
	graphName := catalog.BoxFilter
	inputs := ""
	outputs := ""
	exportWeights := ""
	uploadBucket := ""

	klog.InitFlags(nil)
	flag.StringVar(&serverAddr, "server", serverAddr, "tensorserver address")
	flag.StringVar(&graphName, "graph", graphName, fmt.Sprintf("graph to execute, one of %v", catalog.Names()))
	flag.StringVar(&inputs, "inputs", inputs, `inputs as JSON, e.g. {"x": {"shape": [3], "values": [1, 2, 3]}}`)
	flag.StringVar(&outputs, "outputs", outputs, "comma-separated outputs to return; the graph outputs if empty")
	flag.StringVar(&exportWeights, "export-weights", exportWeights, "write the default weights of -graph as a blob into this directory instead of executing")
	flag.StringVar(&uploadBucket, "upload", uploadBucket, "with -export-weights, also upload the blob to this GCS bucket (gs://<bucketName>)")
	flag.Parse()

	if exportWeights != "" {
		return export(ctx, graphName, exportWeights, uploadBucket)
	}

	log := klog.FromContext(ctx)

	request, err := buildRequest(graphName, inputs, outputs)
	if err != nil {
		return err
	}

	var opts []grpc.DialOption
	opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))

	conn, err := grpc.NewClient(serverAddr, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to server %q: %w", serverAddr, err)
	}
	defer conn.Close()
	client := api.NewGraphExecutorClient(conn)

	log.Info("Starting tensorclient", "server", serverAddr, "graph", graphName)

	response, err := client.Execute(ctx, request)
	if err != nil {
		return fmt.Errorf("failed to execute %q: %w", graphName, err)
	}

	// Decode to check the response is well formed before printing it.
	decoded, err := api.UnmarshalExecuteResponse(tensor.NewMemory(), response)
	if err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	for name, v := range decoded.Outputs {
		log.V(2).Info("output", "name", name, "value", v)
	}

	b, err := protojson.MarshalOptions{Multiline: true}.Marshal(response)
	if err != nil {
		return fmt.Errorf("formatting response: %w", err)
	}
	fmt.Println(string(b))
	return nil
}

func buildRequest(graphName, inputs, outputs string) (*structpb.Struct, error) {
	inputStruct := &structpb.Struct{}
	if inputs != "" {
		if err := protojson.Unmarshal([]byte(inputs), inputStruct); err != nil {
			return nil, fmt.Errorf("parsing -inputs: %w", err)
		}
	}

	outputList := &structpb.ListValue{}
	if outputs != "" {
		for _, name := range strings.Split(outputs, ",") {
			outputList.Values = append(outputList.Values, structpb.NewStringValue(strings.TrimSpace(name)))
		}
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"graph":   structpb.NewStringValue(graphName),
		"inputs":  structpb.NewStructValue(inputStruct),
		"outputs": structpb.NewListValue(outputList),
	}}, nil
}

func export(ctx context.Context, graphName, dir, uploadBucket string) error {
	log := klog.FromContext(ctx)

	model, err := catalog.Get(graphName)
	if err != nil {
		return err
	}
	m := tensor.NewMemory()
	defaults, err := model.DefaultWeights(m)
	if err != nil {
		return err
	}
	defer weights.Dispose(defaults)

	b, err := weights.Encode(defaults)
	if err != nil {
		return fmt.Errorf("encoding weights: %w", err)
	}
	info := blobs.BlobInfo{Hash: weights.Hash(b)}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %q: %w", dir, err)
	}
	p := filepath.Join(dir, info.Hash)
	if err := os.WriteFile(p, b, 0644); err != nil {
		return fmt.Errorf("writing %q: %w", p, err)
	}
	log.Info("exported weights", "graph", graphName, "path", p, "bytes", len(b))

	if uploadBucket != "" {
		if !strings.HasPrefix(uploadBucket, "gs://") {
			return fmt.Errorf("-upload must be a GCS bucket URL (gs://<bucketName>)")
		}
		store := &blobs.GCSBlobstore{Bucket: strings.TrimPrefix(uploadBucket, "gs://")}
		if err := store.Upload(ctx, bytes.NewReader(b), info); err != nil {
			return fmt.Errorf("uploading weights: %w", err)
		}
	}

	fmt.Printf("%s=%s\n", graphName, info.Hash)
	return nil
}
