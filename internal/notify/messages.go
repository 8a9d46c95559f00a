package notify

func (n *Notifier) UploadSuccess(filename string) string {
	description := "File uploaded successfully."
	if filename != "" {
		description = filename + " has been uploaded successfully."
	}
	return n.Success("Upload successful!", WithDescription(description))
}

func (n *Notifier) UploadError(message string) string {
	if message == "" {
		message = "There was an error uploading your file. Please try again."
	}
	return n.Error("Upload failed", WithDescription(message))
}

func (n *Notifier) NetworkError() string {
	return n.Error("Network error",
		WithDescription("Unable to connect to the server. Please check your connection and try again."))
}

func (n *Notifier) ValidationError(field string) string {
	return n.Warning("Validation error",
		WithDescription("Please check the "+field+" field and try again."))
}

func (n *Notifier) DownloadSuccess(filename string) string {
	description := "Your file download has started."
	if filename != "" {
		description = filename + " is being downloaded."
	}
	return n.Success("Download started!", WithDescription(description))
}

func (n *Notifier) DownloadError() string {
	return n.Error("Download failed",
		WithDescription("There was an error downloading the file. Please try again."))
}
