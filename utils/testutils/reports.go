package testutils

// Fuzzer reports used across package tests

// SwapDrainReport funds a pair with one swap, swaps zero value through it
// and skims the pair
const SwapDrainReport = `$ ityfuzz evm -t 0x1111111111111111111111111111111111111111,0x2222222222222222222222222222222222222222 --onchain-block-number 31000000 -c bsc
chain: bsc
[*] Deploying contracts 0x1111111111111111111111111111111111111111, 0x2222222222222222222222222222222222222222
[*] Fuzzing started

Found vulnerabilities!
[Fund Loss]: Anyone can earn 12.5 ETH by following the trace
================ Trace ================
[Sender] 0x68dd4f5ac792eaaa5e36f4f4e0474e0625dc9024
   ├─[1] Router.swapExactETHForTokens{value: 10 ether}(0, path:(WBNB → 0x2222222222222222222222222222222222222222), address(this), block.timestamp);
   │  ├─[2] 0x2222222222222222222222222222222222222222.transfer(0x68dd4f5ac792eaaa5e36f4f4e0474e0625dc9024, 1000)
   ├─[1] Router.swapExactETHForTokens{value: 0 ether}(0, path:(WBNB → 0x2222222222222222222222222222222222222222), address(this), block.timestamp);
   └─[1] 0x2222222222222222222222222222222222222222.skim(0x68dd4f5ac792eaaa5e36f4f4e0474e0625dc9024)

[*] Done
`

// DirectDrainReport is a single privileged withdrawal on mainnet
const DirectDrainReport = `chain: eth
block_number: 18500000
Targets: 0x3333333333333333333333333333333333333333
Found vulnerabilities!
[Fund Loss]: Anyone can earn 3 ETH
================ Trace ================
[Sender] 0x68dd4f5ac792eaaa5e36f4f4e0474e0625dc9024
   └─[1] 0x3333333333333333333333333333333333333333.emergencyWithdraw(0x68dd4f5ac792eaaa5e36f4f4e0474e0625dc9024)

`

// NoTraceReport carries its transactions after the disclosure without a
// trace delimiter
const NoTraceReport = `network: polygon
fork block 52000000
[Fund Loss]: Anyone can earn 1.5 MATIC
Replay:
 0x4444444444444444444444444444444444444444.deposit{value: 1 ether}()
 0x4444444444444444444444444444444444444444.call(0xa9059cbb0000000000000000000000004444444444444444444444444444444444444444)
`

// MultiFindingReport discloses two independent findings
const MultiFindingReport = `chain: eth
block_number: 18600000
Found vulnerabilities!
[Fund Loss]: Anyone can earn 2 ETH
================ Trace ================
   └─[1] 0x5555555555555555555555555555555555555555.approve(0x68dd4f5ac792eaaa5e36f4f4e0474e0625dc9024, 1000000)

[Fund Loss]: Anyone can earn 4 ETH
================ Trace ================
   ├─[1] 0x6666666666666666666666666666666666666666.transferOwnership(0x68dd4f5ac792eaaa5e36f4f4e0474e0625dc9024)
   └─[1] 0x6666666666666666666666666666666666666666.withdraw(100)

`

// CleanReport is a fuzzing run that found nothing
const CleanReport = `chain: bsc
[*] Fuzzing started
[*] 120000 executions, 0 objectives
`

// EmptyTraceReport discloses a profit but nothing replayable
const EmptyTraceReport = `[Fund Loss]: Anyone can earn 1 ETH
================ Trace ================
   (no transactions recorded)

`
