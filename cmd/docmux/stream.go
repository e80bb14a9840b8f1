package main

import (
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"

	"github.com/jacentio/docmux/stream"
)

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Run the DynamoDB Streams cache invalidation Lambda handler",
	Long: "Start an AWS Lambda handler that invalidates cached documents of the mounted " +
		"stores for every change record of the table streams.",
	Args: cobra.NoArgs,
	RunE: runStream,
}

func runStream(cmd *cobra.Command, _ []string) error {
	logger := newLogger()
	router, err := loadRouter(cmd.Context(), logger)
	if err != nil {
		return err
	}
	handler := stream.NewHandler(router, logger)
	lambda.Start(handler.HandleInvalidate)
	return nil
}
