package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"SwarmGate/sdk/go/swarmgate"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/swarms/available", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"swarms":  []string{"SequentialWorkflow", "ConcurrentWorkflow", "MixtureOfAgents"},
		})
	})
	mux.HandleFunc("/v1/swarm/completions", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(swarmgate.SwarmResponse{
			JobID:          "swarms-demo",
			Status:         "success",
			SwarmType:      "SequentialWorkflow",
			Output:         "An autumn haiku about distributed systems.",
			NumberOfAgents: 1,
			Usage:          swarmgate.Usage{InputTokens: 12, OutputTokens: 30, TotalCost: "0.010159"},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := swarmgate.NewClient(srv.URL, "sk-demo", srv.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	swarms, err := client.Topologies(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("available swarm types: %v\n", swarms)

	resp, err := client.RunSwarm(ctx, swarmgate.SwarmRequest{
		Name:      "haiku-demo",
		SwarmType: "SequentialWorkflow",
		Task:      "write a haiku about distributed systems",
		Agents: []swarmgate.AgentSpec{
			{AgentName: "poet", ModelName: "claude-sonnet-4-5", SystemPrompt: "You write haikus."},
		},
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("job %s finished (cost=%s): %v\n", resp.JobID, resp.Usage.TotalCost, resp.Output)
}
