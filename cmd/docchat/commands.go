package main

import (
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a document and index it for question answering",
	Long: `Upload a document and index it for question answering.

Examples:
  docchat upload ./report.pdf
  docchat upload ./notes.md --follow`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		follow, _ := cmd.Flags().GetBool("follow")

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		contentType := mime.TypeByExtension(filepath.Ext(path))
		doc, err := client.uploadDocument(cmd.Context(), path, data, contentType)
		if err != nil {
			return err
		}
		printSuccess("Uploaded %s (%s)", doc.Filename, doc.ID)

		if !follow {
			printStep("Track progress with: docchat documents list")
			return nil
		}
		return followProgress(cmd, client, doc.ID)
	},
}

func followProgress(cmd *cobra.Command, client *apiClient, docID string) error {
	client.httpClient.Timeout = 0 // the stream outlives any fixed timeout

	resp, err := client.get(cmd.Context(), "/api/documents/"+docID+"/progress")
	if err != nil {
		return err
	}

	var lastStage string
	return streamEvents(resp, func(data []byte) error {
		var state struct {
			CurrentStage string `json:"current_stage"`
			Percent      int    `json:"progress_percentage"`
			Error        string `json:"error_message"`
			Stats        *struct {
				ChunkCount int `json:"chunk_count"`
			} `json:"stats"`
		}
		if err := json.Unmarshal(data, &state); err != nil {
			return err
		}

		if state.CurrentStage != lastStage {
			lastStage = state.CurrentStage
			switch state.CurrentStage {
			case "completed":
				chunks := 0
				if state.Stats != nil {
					chunks = state.Stats.ChunkCount
				}
				printSuccess("Indexed (%d chunks)", chunks)
			case "failed":
				printError("Ingestion failed: %s", state.Error)
			default:
				printStep("%s (%d%%)", state.CurrentStage, state.Percent)
			}
		}
		return nil
	})
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question over the indexed documents",
	Long: `Ask a question over the indexed documents.

Examples:
  docchat ask "What does the Q3 report say about revenue?"
  docchat ask "Summarize the contract terms" --document 0b2f...`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		documentID, _ := cmd.Flags().GetString("document")
		k, _ := cmd.Flags().GetInt("k")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		client.httpClient.Timeout = 0

		resp, err := client.postJSON(cmd.Context(), "/api/qa/ask", map[string]any{
			"question":    question,
			"document_id": documentID,
			"k":           k,
		})
		if err != nil {
			return err
		}

		var printed int
		err = streamEvents(resp, func(data []byte) error {
			var event struct {
				Answer         string `json:"answer"`
				Done           bool   `json:"done"`
				Incomplete     bool   `json:"incomplete"`
				Error          string `json:"error"`
				RetrievedCount int    `json:"retrieved_count"`
				Sources        []struct {
					Filename string  `json:"filename"`
					Score    float32 `json:"score"`
				} `json:"sources"`
			}
			if err := json.Unmarshal(data, &event); err != nil {
				return err
			}

			if len(event.Answer) > printed {
				fmt.Fprint(os.Stdout, event.Answer[printed:])
				printed = len(event.Answer)
			}
			if !event.Done {
				return nil
			}

			fmt.Fprintln(os.Stdout)
			if event.Incomplete {
				printError("Answer incomplete: %s", event.Error)
			}
			for _, src := range event.Sources {
				printStatus("Source", "%s (%.2f)", src.Filename, src.Score)
			}
			return nil
		})
		return err
	},
}

// --- documents ---

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "Manage uploaded documents",
}

var documentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List uploaded documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		docs, err := client.listDocuments(cmd.Context())
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			printStep("No documents uploaded yet")
			return nil
		}

		for _, d := range docs {
			fmt.Fprintf(os.Stdout, "%s  %-10s  %4d chunks  %s\n", d.ID, d.Status, d.ChunkCount, d.Filename)
		}
		return nil
	},
}

var documentsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a document and everything indexed from it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/api/documents/"+args[0])
		if err != nil {
			return err
		}

		var result struct {
			Status         string `json:"status"`
			ChunksDeleted  int    `json:"chunks_deleted"`
			VectorsDeleted int    `json:"vectors_deleted"`
			Warning        string `json:"warning"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted document %s (%d chunks, %d vectors)", args[0], result.ChunksDeleted, result.VectorsDeleted)
		if result.Warning != "" {
			printWarning("%s", result.Warning)
		}
		return nil
	},
}

func init() {
	uploadCmd.Flags().Bool("follow", false, "stream ingestion progress until it finishes")
	askCmd.Flags().String("document", "", "restrict the answer to one document id")
	askCmd.Flags().Int("k", 0, "number of context chunks to retrieve")
	documentsCmd.AddCommand(documentsListCmd)
	documentsCmd.AddCommand(documentsDeleteCmd)
}
