package main

// Version is the current hlbeacon release version
const Version = "0.3.1"
