package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/clipforge/clipforge/pkg/models"
)

var (
	// Job submit flags
	topic          string
	sourceFile     string
	targetMinutes  int
	voiceID        string
	visualStyle    string
	language       string
	reserveCredits int

	// Job list flags
	listStatus string
)

// jobsCmd represents the jobs command
var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage video-generation jobs",
	Long:  `Commands for submitting, listing and inspecting video-generation jobs.`,
}

// jobsSubmitCmd represents the jobs submit command
var jobsSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a new job",
	Long:  `Create a project from the given inputs and queue a video-generation job for it.`,
	RunE:  runJobsSubmit,
}

// jobsStatusCmd represents the jobs status command
var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Get job status",
	Long:  `Show a job's status, progress, credits and error details.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

// jobsListCmd represents the jobs list command
var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	Long:  `List jobs, optionally filtered by status.`,
	RunE:  runJobsList,
}

// jobsEventsCmd represents the jobs events command
var jobsEventsCmd = &cobra.Command{
	Use:   "events <job-id>",
	Short: "Show a job's event log",
	Long:  `Print the append-only per-stage event log of a job.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsEvents,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsSubmitCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsEventsCmd)

	// Flags for job submit
	jobsSubmitCmd.Flags().StringVar(&topic, "topic", "", "topic to generate a video about (required)")
	jobsSubmitCmd.Flags().StringVar(&sourceFile, "source-file", "", "optional source text file to base the script on")
	jobsSubmitCmd.Flags().IntVar(&targetMinutes, "minutes", 1, "target video length in minutes")
	jobsSubmitCmd.Flags().StringVar(&voiceID, "voice", "", "narration voice id")
	jobsSubmitCmd.Flags().StringVar(&visualStyle, "style", "", "visual style hint for the image prompts")
	jobsSubmitCmd.Flags().StringVar(&language, "language", "", "narration language (default provider decides)")
	jobsSubmitCmd.Flags().IntVar(&reserveCredits, "credits", 1, "credits reserved for this job")
	jobsSubmitCmd.MarkFlagRequired("topic")

	jobsListCmd.Flags().StringVar(&listStatus, "status", "", "filter by status (e.g. QUEUED, READY, FAILED)")
}

func runJobsSubmit(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	var sourceText string
	if sourceFile != "" {
		data, err := os.ReadFile(sourceFile)
		if err != nil {
			return fmt.Errorf("failed to read source file: %w", err)
		}
		sourceText = string(data)
	}

	now := time.Now().UTC()
	project := &models.Project{
		ID:            uuid.New().String(),
		UserID:        "cli",
		Topic:         topic,
		SourceText:    sourceText,
		TargetMinutes: targetMinutes,
		VoiceID:       voiceID,
		VisualStyle:   visualStyle,
		Language:      language,
		CreatedAt:     now,
	}
	if err := st.CreateProject(project); err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}

	job := &models.Job{
		ID:                  uuid.New().String(),
		ProjectID:           project.ID,
		UserID:              project.UserID,
		Status:              models.JobStatusQueued,
		CostCreditsReserved: reserveCredits,
		CreatedAt:           now,
	}
	if err := st.CreateJob(job); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(job, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("Job ID", job.ID)
	table.Append("Project ID", project.ID)
	table.Append("Topic", project.Topic)
	table.Append("Status", string(job.Status))
	table.Append("Credits Reserved", fmt.Sprintf("%d", job.CostCreditsReserved))
	table.Append("Created At", job.CreatedAt.Format(time.RFC3339))
	table.Render()

	fmt.Printf("\nJob queued. Run a worker with: clipforge work\n")
	return nil
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	job, err := st.GetJob(args[0])
	if err != nil {
		return fmt.Errorf("failed to fetch job: %w", err)
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(job, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("Job ID", job.ID)
	table.Append("Status", string(job.Status))
	table.Append("Progress", fmt.Sprintf("%d%%", job.Progress))
	table.Append("Credits Reserved", fmt.Sprintf("%d", job.CostCreditsReserved))
	if job.CostCreditsFinal > 0 {
		table.Append("Credits Final", fmt.Sprintf("%d", job.CostCreditsFinal))
	}
	if job.ErrorCode != "" {
		table.Append("Error Code", job.ErrorCode)
		table.Append("Error", job.ErrorMessage)
	}
	if len(job.CheckpointState) > 0 {
		table.Append("Checkpoint", "present")
	}
	table.Append("Created At", job.CreatedAt.Format(time.RFC3339))
	if job.StartedAt != nil {
		table.Append("Started At", job.StartedAt.Format(time.RFC3339))
	}
	if job.FinishedAt != nil {
		table.Append("Finished At", job.FinishedAt.Format(time.RFC3339))
	}
	table.Render()
	return nil
}

func runJobsList(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	jobs, err := st.GetJobs(models.JobStatus(listStatus))
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(jobs, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Job ID", "Status", "Progress", "Credits", "Error", "Created At")
	for _, job := range jobs {
		table.Append(job.ID, string(job.Status), fmt.Sprintf("%d%%", job.Progress),
			fmt.Sprintf("%d", job.CostCreditsReserved), job.ErrorCode,
			job.CreatedAt.Format(time.RFC3339))
	}
	table.Render()
	fmt.Printf("\nTotal: %d jobs\n", len(jobs))
	return nil
}

func runJobsEvents(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	events, err := st.GetJobEvents(args[0])
	if err != nil {
		return fmt.Errorf("failed to fetch events: %w", err)
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(events, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Time", "Stage", "Level", "Message")
	for _, ev := range events {
		table.Append(ev.CreatedAt.Format(time.RFC3339), ev.Stage, ev.Level, ev.Message)
	}
	table.Render()
	return nil
}
