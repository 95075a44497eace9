package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensbom/sbom-enrich/model"
)

var (
	bomFile        string
	productName    string
	productType    string
	productVersion string
	blocking       bool
)

// uploadCmd uploads a bom with its packages to the server
var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload a bom to the enrichment service",
	Long: `Reads a bom JSON file and posts it with its product metadata.
The file carries the bom name and the package list with purl refs.`,
	RunE: runUpload,
}

// enrichCmd triggers an enrichment run for a bom
var enrichCmd = &cobra.Command{
	Use:   "enrich [bom-key]",
	Short: "Trigger an enrichment run for a bom",
	Args:  cobra.ExactArgs(1),
	RunE:  runEnrich,
}

// statusCmd shows the state of an enrichment run
var statusCmd = &cobra.Command{
	Use:   "status [run-key]",
	Short: "Show the status of an enrichment run",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(enrichCmd)
	rootCmd.AddCommand(statusCmd)

	uploadCmd.Flags().StringVarP(&bomFile, "bom", "b", "", "Path to bom JSON file (required)")
	uploadCmd.Flags().StringVar(&productName, "product", "", "Product name (required)")
	uploadCmd.Flags().StringVar(&productType, "product-type", "", "Product type")
	uploadCmd.Flags().StringVar(&productVersion, "product-version", "", "Product version")
	uploadCmd.MarkFlagRequired("bom")
	uploadCmd.MarkFlagRequired("product")

	enrichCmd.Flags().BoolVar(&blocking, "blocking", false, "Wait for the run to finish")
}

func runUpload(cmd *cobra.Command, args []string) error {
	content, err := os.ReadFile(bomFile)
	if err != nil {
		return fmt.Errorf("failed to read bom file: %w", err)
	}

	var upload BomUpload
	if err := json.Unmarshal(content, &upload); err != nil {
		return fmt.Errorf("bom file is not valid JSON: %w", err)
	}
	if upload.Name == "" {
		return fmt.Errorf("bom file must carry a name field")
	}

	upload.Product.Name = productName
	upload.Product.ProductType = productType
	upload.Product.ProductVersion = productVersion

	if verbose {
		fmt.Printf("Uploading bom %s with %d package(s)\n", upload.Name, len(upload.Packages))
	}

	body, err := postJSON(serverURL+"/api/v1/boms", upload, http.StatusCreated)
	if err != nil {
		return fmt.Errorf("failed to upload bom: %w", err)
	}

	var result StatusResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	fmt.Printf("✓ Uploaded bom %s (key %s)\n", upload.Name, result.Key)
	return nil
}

func runEnrich(cmd *cobra.Command, args []string) error {
	bomKey := args[0]
	url := fmt.Sprintf("%s/api/v1/boms/%s/enrich?blocking=%t", serverURL, bomKey, blocking)

	wantStatus := http.StatusAccepted
	if blocking {
		wantStatus = http.StatusOK
	}

	body, err := postJSON(url, struct{}{}, wantStatus)
	if err != nil {
		return fmt.Errorf("failed to trigger enrichment: %w", err)
	}

	if !blocking {
		fmt.Printf("✓ Enrichment started for bom %s\n", bomKey)
		return nil
	}

	var run model.EnrichmentRun
	if err := json.Unmarshal(body, &run); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	printRun(&run)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	resp, err := http.Get(serverURL + "/api/v1/runs/" + args[0])
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("run not found: %s", args[0])
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	var run model.EnrichmentRun
	if err := json.Unmarshal(body, &run); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	printRun(&run)
	return nil
}

func printRun(run *model.EnrichmentRun) {
	fmt.Printf("Run:       %s\n", run.Key)
	fmt.Printf("Bom:       %s\n", run.BomKey)
	fmt.Printf("Status:    %s\n", run.Status)
	if run.FailureReason != "" {
		fmt.Printf("Failure:   %s\n", run.FailureReason)
		fmt.Printf("Remaining: %d\n", run.RemainingSize)
	}
	fmt.Printf("Packages:  %d\n", run.PackageCount)
	fmt.Printf("Licenses:  %d\n", run.LicenseCount)
	fmt.Printf("Relps:     %d\n", run.RelpCount)
}
