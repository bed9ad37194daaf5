package main

import "github.com/Ananth-NQI/hotelchat-backend/internal/cli"

func main() {
	cli.Execute()
}
